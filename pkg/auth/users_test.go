package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/storage/sqlitetest"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

func TestUserStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(sqlitetest.NewDB(t))

	user, err := store.CreateUser(ctx, "Alice", "  Alice@Example.COM ")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.False(t, got.Blocked)
	assert.False(t, got.GlobalAdmin)

	byEmail, err := store.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestUserStore_CreateUser_Validation(t *testing.T) {
	store := NewUserStore(sqlitetest.NewDB(t))

	_, err := store.CreateUser(context.Background(), "", "a@example.com")
	assert.Error(t, err)

	_, err = store.CreateUser(context.Background(), "A", " ")
	assert.Error(t, err)
}

func TestUserStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(sqlitetest.NewDB(t))

	_, err := store.GetUser(ctx, 42)
	assert.ErrorIs(t, err, tenancy.ErrUserNotFound)

	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, tenancy.ErrUserNotFound)

	assert.ErrorIs(t, store.SetBlocked(ctx, 42, true), tenancy.ErrUserNotFound)
	assert.ErrorIs(t, store.SetGlobalAdmin(ctx, 42, true), tenancy.ErrUserNotFound)
}

func TestUserStore_SetBlocked_RevokesTokens(t *testing.T) {
	ctx := context.Background()
	db := sqlitetest.NewDB(t)
	store := NewUserStore(db)
	tokens := NewTokenManager(db)

	user, err := store.CreateUser(ctx, "Bob", "bob@example.com")
	require.NoError(t, err)

	_, token, err := tokens.CreateToken(ctx, user.ID, "cli", nil)
	require.NoError(t, err)

	require.NoError(t, store.SetBlocked(ctx, user.ID, true))

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Blocked)

	_, err = tokens.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, store.SetBlocked(ctx, user.ID, false))
	got, err = store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Blocked)
}

func TestUserStore_SetGlobalAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(sqlitetest.NewDB(t))

	user, err := store.CreateUser(ctx, "Root", "root@example.com")
	require.NoError(t, err)

	require.NoError(t, store.SetGlobalAdmin(ctx, user.ID, true))
	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.GlobalAdmin)
}
