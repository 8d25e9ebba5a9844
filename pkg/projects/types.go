package projects

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Status is the administrative state of a project
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known project status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusArchived:
		return true
	}
	return false
}

// MembershipStatus is the lifecycle state of a membership
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipInvited MembershipStatus = "invited"
	MembershipRemoved MembershipStatus = "removed"
)

var (
	ErrMembershipNotFound = fmt.Errorf("membership %w", tenancy.ErrNotFound)
	ErrInvitationNotFound = fmt.Errorf("invitation %w", tenancy.ErrNotFound)
	ErrInvitationExpired  = fmt.Errorf("%w: invitation has expired", tenancy.ErrConflict)
	ErrInvitationUsed     = fmt.Errorf("%w: invitation has already been accepted", tenancy.ErrConflict)
	ErrSlugTaken          = fmt.Errorf("%w: slug is already taken", tenancy.ErrConflict)
	ErrOwnerMembership    = fmt.Errorf("%w: the owning user's membership cannot be changed", tenancy.ErrConflict)
	ErrOwnerRoleGrant     = fmt.Errorf("%w: the owner role belongs to the owning user", tenancy.ErrInvalidInput)
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// Project is a tenant: the isolation boundary for all business data
type Project struct {
	ID           int64                  `json:"id"`
	Name         string                 `json:"name"`
	Slug         string                 `json:"slug"`
	OwnerID      int64                  `json:"owner_id"`
	Status       Status                 `json:"status"`
	LogoURL      string                 `json:"logo_url,omitempty"`
	PrimaryColor string                 `json:"primary_color,omitempty"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Membership binds one user to one project with one role
type Membership struct {
	ID        int64            `json:"id"`
	ProjectID int64            `json:"project_id"`
	UserID    int64            `json:"user_id"`
	RoleID    int64            `json:"role_id"`
	Role      string           `json:"role"`
	Status    MembershipStatus `json:"status"`
	InvitedBy *int64           `json:"invited_by,omitempty"`
	UserName  string           `json:"user_name,omitempty"`
	UserEmail string           `json:"user_email,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

var _ tenancy.Scoped = (*Membership)(nil)

// TenantID implements tenancy.Scoped
func (m *Membership) TenantID() int64 {
	if m == nil {
		return 0
	}
	return m.ProjectID
}

// EntityType implements tenancy.Scoped
func (m *Membership) EntityType() string { return "membership" }

// Invitation is a pending offer of membership. The raw token is only
// returned once, when the invitation is created.
type Invitation struct {
	ID           int64      `json:"id"`
	ProjectID    int64      `json:"project_id"`
	MembershipID int64      `json:"membership_id"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	InvitedBy    *int64     `json:"invited_by,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

var _ tenancy.Scoped = (*Invitation)(nil)

// TenantID implements tenancy.Scoped
func (i *Invitation) TenantID() int64 {
	if i == nil {
		return 0
	}
	return i.ProjectID
}

// EntityType implements tenancy.Scoped
func (i *Invitation) EntityType() string { return "invitation" }

// CreateProjectRequest holds the attributes of a new project. An empty
// slug is derived from the name.
type CreateProjectRequest struct {
	Name         string                 `json:"name"`
	Slug         string                 `json:"slug,omitempty"`
	LogoURL      string                 `json:"logo_url,omitempty"`
	PrimaryColor string                 `json:"primary_color,omitempty"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
}

// UpdateProjectRequest holds the changed attributes of a project
type UpdateProjectRequest struct {
	Name         *string                `json:"name,omitempty"`
	LogoURL      *string                `json:"logo_url,omitempty"`
	PrimaryColor *string                `json:"primary_color,omitempty"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
}

// Recorder receives audit events after a change has committed
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Service manages projects and their memberships
type Service interface {
	CreateProject(ctx context.Context, actor tenancy.Actor, req *CreateProjectRequest) (*Project, error)
	GetProject(ctx context.Context, projectID int64) (*Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*Project, error)
	ListProjects(ctx context.Context, userID int64) ([]*Project, error)
	UpdateProject(ctx context.Context, projectID int64, actor tenancy.Actor, req *UpdateProjectRequest) (*Project, error)
	SetStatus(ctx context.Context, projectID int64, actor tenancy.Actor, status Status) (*Project, error)

	Assign(ctx context.Context, projectID int64, actor tenancy.Actor, userID int64, roleSlug string) (*Membership, error)
	UpdateRole(ctx context.Context, projectID int64, actor tenancy.Actor, userID int64, roleSlug string) (*Membership, error)
	Remove(ctx context.Context, projectID int64, actor tenancy.Actor, userID int64) (bool, error)
	HasAccess(ctx context.Context, projectID, userID int64) (bool, error)
	RoleOf(ctx context.Context, projectID, userID int64) (*rbac.Role, error)
	GetMembership(ctx context.Context, projectID, userID int64) (*Membership, error)
	ListMembers(ctx context.Context, projectID int64) ([]*Membership, error)

	Invite(ctx context.Context, projectID int64, actor tenancy.Actor, email, roleSlug string) (*Invitation, string, error)
	AcceptInvitation(ctx context.Context, token string, actor tenancy.Actor) (*Membership, error)
	ExpireInvitations(ctx context.Context, now time.Time) (int, error)
}

// ValidateSlug checks the URL-safe slug format
func ValidateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug must be 2-63 lowercase letters, digits or hyphens", tenancy.ErrInvalidInput)
	}
	return nil
}

// GenerateSlug derives a slug from a project name
func GenerateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	slug = strings.Trim(slug, "-")
	if len(slug) > 63 {
		slug = strings.TrimRight(slug[:63], "-")
	}
	return slug
}
