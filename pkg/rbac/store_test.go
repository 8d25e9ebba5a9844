package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/storage/sqlitetest"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

func TestRoleStore_SeededRoles(t *testing.T) {
	ctx := context.Background()
	db := sqlitetest.NewDB(t)
	sqlitetest.SeedRoles(t, db)
	store := NewRoleStore(db)

	role, err := store.GetRoleBySlug(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, sqlitetest.AdminRoleID, role.ID)
	assert.Equal(t, 50, role.Level)

	_, err = store.GetRole(ctx, 999)
	assert.ErrorIs(t, err, tenancy.ErrRoleNotFound)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, RoleOwner, roles[0].Slug)
	assert.Equal(t, RoleMember, roles[2].Slug)
	assert.Len(t, roles[0].Permissions, 4)
	assert.Len(t, roles[2].Permissions, 2)
}

func TestRoleStore_RoleHasPermission(t *testing.T) {
	ctx := context.Background()
	db := sqlitetest.NewDB(t)
	sqlitetest.SeedRoles(t, db)
	store := NewRoleStore(db)

	ok, err := store.RoleHasPermission(ctx, sqlitetest.MemberRoleID, "products.view")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RoleHasPermission(ctx, sqlitetest.AdminRoleID, "products.delete")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.RoleHasPermission(ctx, sqlitetest.OwnerRoleID, "products.delete")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRoleStore_SeedDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewRoleStore(sqlitetest.NewDB(t))

	policy := DefaultPolicy()
	require.NoError(t, store.SeedDefaults(ctx, policy, DefaultPermissions()))
	// Seeding twice is a no-op
	require.NoError(t, store.SeedDefaults(ctx, policy, DefaultPermissions()))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(DefaultPermissions()))
	assert.Equal(t, "audit", perms[0].Area)

	admin, err := store.GetRoleBySlug(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Admin", admin.Name)

	ok, err := store.RoleHasPermission(ctx, admin.ID, "audit.view")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RoleHasPermission(ctx, admin.ID, "members.manage")
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := store.GetRoleBySlug(ctx, RoleOwner)
	require.NoError(t, err)
	ownerPerms, err := store.PermissionsForRole(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, ownerPerms, len(DefaultPermissions()))
}

func TestRoleStore_SeedDefaults_UpdatesLevels(t *testing.T) {
	ctx := context.Background()
	store := NewRoleStore(sqlitetest.NewDB(t))
	require.NoError(t, store.SeedDefaults(ctx, DefaultPolicy(), nil))

	changed := DefaultPolicy()
	changed.Levels[RoleAdmin] = 75
	require.NoError(t, store.SeedDefaults(ctx, changed, nil))

	admin, err := store.GetRoleBySlug(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 75, admin.Level)
}

func TestRoleStore_SeedDefaults_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := NewRoleStore(sqlitetest.NewDB(t))

	err := store.SeedDefaults(ctx, DefaultPolicy(), []PermissionSeed{{Slug: "Bad Slug", MinRole: RoleMember}})
	assert.ErrorIs(t, err, tenancy.ErrInvalidPermission)

	err = store.SeedDefaults(ctx, DefaultPolicy(), []PermissionSeed{{Slug: "x.view", MinRole: "nobody"}})
	assert.Error(t, err)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles, "failed seed must roll back")
}
