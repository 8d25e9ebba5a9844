package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// RoleStore handles role and permission persistence
type RoleStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewRoleStore creates a new role store
func NewRoleStore(db *sql.DB) *RoleStore {
	return &RoleStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// PermissionSeed describes a permission and the lowest role holding it
type PermissionSeed struct {
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	MinRole     string `yaml:"min_role"`
}

// DefaultPermissions is the permission set seeded on start-up
func DefaultPermissions() []PermissionSeed {
	return []PermissionSeed{
		{Slug: "projects.view", Description: "View project details", MinRole: RoleMember},
		{Slug: "projects.update", Description: "Change project name, branding and settings", MinRole: RoleAdmin},
		{Slug: "projects.delete", Description: "Archive the project", MinRole: RoleOwner},
		{Slug: "members.view", Description: "List project members", MinRole: RoleMember},
		{Slug: "members.manage", Description: "Add, change and remove members", MinRole: RoleOwner},
		{Slug: "modules.view", Description: "List enabled modules", MinRole: RoleMember},
		{Slug: "modules.manage", Description: "Enable and disable modules", MinRole: RoleOwner},
		{Slug: "audit.view", Description: "Read the audit log", MinRole: RoleAdmin},
	}
}

// GetRole retrieves a role by id
func (s *RoleStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, level, description, created_at
		FROM roles
		WHERE id = $1
	`, roleID)
	return scanRole(row)
}

// GetRoleBySlug retrieves a role by slug
func (s *RoleStore) GetRoleBySlug(ctx context.Context, slug string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, level, description, created_at
		FROM roles
		WHERE slug = $1
	`, slug)
	return scanRole(row)
}

// ListRoles returns all roles, highest level first, with their permissions
func (s *RoleStore) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, level, description, created_at
		FROM roles
		ORDER BY level DESC, slug
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	for _, role := range roles {
		if role.Permissions, err = s.PermissionsForRole(ctx, role.ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// ListPermissions returns every permission ordered by slug
func (s *RoleStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, area, description FROM permissions ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// PermissionsForRole returns the permissions granted to a role
func (s *RoleStore) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.area, p.description
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.slug
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// RoleHasPermission reports whether a role includes a permission slug
func (s *RoleStore) RoleHasPermission(ctx context.Context, roleID int64, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM role_permissions rp
			JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role_id = $1 AND p.slug = $2
		)
	`, roleID, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check role permission: %w", err)
	}
	return exists, nil
}

// SeedDefaults upserts one role per policy level and the given permissions,
// granting each permission to every role at or above its MinRole. It is
// idempotent and never revokes grants.
func (s *RoleStore) SeedDefaults(ctx context.Context, policy *Policy, permissions []PermissionSeed) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	slugs := make([]string, 0, len(policy.Levels))
	for slug := range policy.Levels {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	roleIDs := make(map[string]int64, len(slugs))
	for _, slug := range slugs {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO roles (slug, name, level, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (slug) DO UPDATE SET level = excluded.level
			RETURNING id
		`, slug, displayName(slug), policy.Levels[slug], s.now()).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", slug, err)
		}
		roleIDs[slug] = id
	}

	for _, perm := range permissions {
		if err := ValidatePermissionSlug(perm.Slug); err != nil {
			return err
		}
		minLevel, ok := policy.Levels[perm.MinRole]
		if !ok {
			return fmt.Errorf("permission %s references unknown role %q", perm.Slug, perm.MinRole)
		}

		var permID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO permissions (slug, area, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (slug) DO UPDATE SET description = excluded.description
			RETURNING id
		`, perm.Slug, PermissionArea(perm.Slug), perm.Description).Scan(&permID)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm.Slug, err)
		}

		for _, slug := range slugs {
			if policy.Levels[slug] < minLevel {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, roleIDs[slug], permID); err != nil {
				return fmt.Errorf("failed to grant %s to %s: %w", perm.Slug, slug, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row scanner) (*Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Level, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	var permissions []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Area, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read permissions: %w", err)
	}
	return permissions, nil
}

func displayName(slug string) string {
	if slug == "" {
		return slug
	}
	return strings.ToUpper(slug[:1]) + strings.ReplaceAll(slug[1:], "_", " ")
}
