package rbac

import (
	"fmt"
	"regexp"
	"time"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Well-known role slugs. Their levels come from the active Policy.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Action is a named policy check
type Action string

const (
	ActionView          Action = "view"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionManageMembers Action = "manage_members"
	ActionManageModules Action = "manage_modules"
	ActionViewAudit     Action = "view_audit"
)

// Role is an ordered authorization level with a permission set. Roles are
// global reference data, shared by every project.
type Role struct {
	ID          int64        `json:"id"`
	Slug        string       `json:"slug"`
	Name        string       `json:"name"`
	Level       int          `json:"level"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Permission is a named atomic capability of the form <area>.<verb>
type Permission struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Area        string `json:"area"`
	Description string `json:"description,omitempty"`
}

var permissionSlugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

// ValidatePermissionSlug checks the <area>.<verb> format
func ValidatePermissionSlug(slug string) error {
	if !permissionSlugPattern.MatchString(slug) {
		return fmt.Errorf("%w: %q", tenancy.ErrInvalidPermission, slug)
	}
	return nil
}

// PermissionArea returns the area part of a valid permission slug
func PermissionArea(slug string) string {
	for i := 0; i < len(slug); i++ {
		if slug[i] == '.' {
			return slug[:i]
		}
	}
	return ""
}

// Subject is what the policy table is evaluated against
type Subject struct {
	// Owner is true for the project's owning user
	Owner bool
	// GlobalAdmin is true for deployment-wide administrators
	GlobalAdmin bool
	// Role is the role of the active membership, nil without one
	Role *Role
}
