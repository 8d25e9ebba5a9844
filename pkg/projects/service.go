package projects

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// DefaultInvitationTTL is how long an invitation can be accepted
const DefaultInvitationTTL = 7 * 24 * time.Hour

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db            *sql.DB
	enforcer      *tenancy.Enforcer
	recorder      Recorder
	metrics       *observability.Metrics
	invitationTTL time.Duration
	now           func() time.Time
}

var (
	_ Service                   = (*PostgresService)(nil)
	_ rbac.Directory            = (*PostgresService)(nil)
	_ tenancy.MembershipChecker = (*PostgresService)(nil)
)

// NewPostgresService creates a new PostgresService. A nil recorder drops
// audit events.
func NewPostgresService(db *sql.DB, enforcer *tenancy.Enforcer, recorder Recorder) *PostgresService {
	if recorder == nil {
		recorder = discardRecorder{}
	}
	return &PostgresService{
		db:            db,
		enforcer:      enforcer,
		recorder:      recorder,
		invitationTTL: DefaultInvitationTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches membership change counters
func (s *PostgresService) WithMetrics(metrics *observability.Metrics) *PostgresService {
	s.metrics = metrics
	return s
}

// WithInvitationTTL overrides the invitation lifetime
func (s *PostgresService) WithInvitationTTL(ttl time.Duration) *PostgresService {
	if ttl > 0 {
		s.invitationTTL = ttl
	}
	return s
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, audit.Event) {}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const projectColumns = `p.id, p.name, p.slug, p.owner_id, p.status, p.logo_url, p.primary_color, p.settings,
	p.created_at, p.updated_at`

// CreateProject creates a project and the owner membership of the acting
// user in one transaction
func (s *PostgresService) CreateProject(ctx context.Context, actor tenancy.Actor, req *CreateProjectRequest) (*Project, error) {
	if actor.IsSystem() {
		return nil, fmt.Errorf("%w: a project needs an owning user", tenancy.ErrInvalidInput)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", tenancy.ErrInvalidInput)
	}
	slug := req.Slug
	if slug == "" {
		slug = GenerateSlug(name)
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	settings := req.Settings
	if settings == nil {
		settings = map[string]interface{}{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	now := s.now()
	project := &Project{
		Name:         name,
		Slug:         slug,
		OwnerID:      actor.UserID,
		Status:       StatusActive,
		LogoURL:      req.LogoURL,
		PrimaryColor: req.PrimaryColor,
		Settings:     settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ownerRoleID, err := roleIDBySlug(ctx, tx, rbac.RoleOwner)
	if err != nil {
		return nil, err
	}

	var taken bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE slug = $1)`, slug).Scan(&taken); err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	}
	if taken {
		return nil, ErrSlugTaken
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects (name, slug, owner_id, status, logo_url, primary_color, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, project.Name, project.Slug, project.OwnerID, project.Status, project.LogoURL, project.PrimaryColor,
		string(settingsJSON), now, now).Scan(&project.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	membership := &Membership{
		ProjectID: project.ID,
		UserID:    actor.UserID,
		RoleID:    ownerRoleID,
		Role:      rbac.RoleOwner,
		Status:    MembershipActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.enforcer.Admit(membership, "create"); err != nil {
		return nil, err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO memberships (project_id, user_id, role_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, membership.ProjectID, membership.UserID, membership.RoleID, membership.Status, now, now).Scan(&membership.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project: %w", err)
	}

	s.metrics.RecordMembershipChange("create_project")
	s.recorder.Record(ctx, audit.Event{
		ProjectID:  project.ID,
		Actor:      actor,
		Action:     audit.ActionCreated,
		EntityType: "project",
		EntityID:   strconv.FormatInt(project.ID, 10),
		After:      project,
		Area:       audit.AreaProjects,
	})
	s.recorder.Record(ctx, audit.Event{
		ProjectID:   project.ID,
		Actor:       actor,
		Action:      audit.ActionCreated,
		EntityType:  "membership",
		EntityID:    strconv.FormatInt(membership.ID, 10),
		After:       membership,
		Area:        audit.AreaMembers,
		Description: "owner membership",
	})

	return project, nil
}

// GetProject retrieves a project by ID
func (s *PostgresService) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, projectID)
	return scanProject(row)
}

// GetProjectBySlug retrieves a project by slug
func (s *PostgresService) GetProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.slug = $1`, slug)
	return scanProject(row)
}

// ListProjects lists the projects where the user has an active membership
func (s *PostgresService) ListProjects(ctx context.Context, userID int64) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN memberships m ON m.project_id = p.id
		WHERE m.user_id = $1 AND m.status = $2
		ORDER BY p.name, p.id
	`, userID, MembershipActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read projects: %w", err)
	}
	return projects, nil
}

// UpdateProject changes the name, branding or settings of a project
func (s *PostgresService) UpdateProject(ctx context.Context, projectID int64, actor tenancy.Actor, updates *UpdateProjectRequest) (*Project, error) {
	before, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		name := strings.TrimSpace(*updates.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", tenancy.ErrInvalidInput)
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, name)
		argPos++
	}
	if updates.LogoURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("logo_url = $%d", argPos))
		args = append(args, *updates.LogoURL)
		argPos++
	}
	if updates.PrimaryColor != nil {
		setClauses = append(setClauses, fmt.Sprintf("primary_color = $%d", argPos))
		args = append(args, *updates.PrimaryColor)
		argPos++
	}
	if updates.Settings != nil {
		settingsJSON, err := json.Marshal(updates.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("settings = $%d", argPos))
		args = append(args, string(settingsJSON))
		argPos++
	}

	if len(setClauses) == 0 {
		return before, nil
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, s.now())
	argPos++

	args = append(args, projectID)
	query := fmt.Sprintf("UPDATE projects SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	after, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionUpdated,
		EntityType: "project",
		EntityID:   strconv.FormatInt(projectID, 10),
		Before:     before,
		After:      after,
		Area:       audit.AreaProjects,
	})
	return after, nil
}

// SetStatus changes the administrative status of a project. Memberships
// and data are left untouched.
func (s *PostgresService) SetStatus(ctx context.Context, projectID int64, actor tenancy.Actor, status Status) (*Project, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown project status %q", tenancy.ErrInvalidInput, status)
	}

	before, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if before.Status == status {
		return before, nil
	}

	_, err = s.db.ExecContext(ctx, `UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3`,
		status, s.now(), projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to update project status: %w", err)
	}

	after, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		ProjectID:   projectID,
		Actor:       actor,
		Action:      audit.ActionStatusChanged,
		EntityType:  "project",
		EntityID:    strconv.FormatInt(projectID, 10),
		Before:      before,
		After:       after,
		Area:        audit.AreaProjects,
		Description: fmt.Sprintf("status changed from %s to %s", before.Status, after.Status),
	})
	return after, nil
}

// HasAccess reports whether the user has an active membership in the
// project or is a global admin. It is one indexed lookup.
func (s *PostgresService) HasAccess(ctx context.Context, projectID, userID int64) (bool, error) {
	if err := s.enforcer.Scope("membership", projectID); err != nil {
		return false, err
	}

	var access bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM memberships WHERE project_id = $1 AND user_id = $2 AND status = $3
		) OR EXISTS (
			SELECT 1 FROM users WHERE id = $2 AND is_global_admin
		)
	`, projectID, userID, MembershipActive).Scan(&access)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return access, nil
}

// IsGlobalAdmin reports the global admin flag of a user
func (s *PostgresService) IsGlobalAdmin(ctx context.Context, userID int64) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx, `SELECT is_global_admin FROM users WHERE id = $1`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, tenancy.ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	return admin, nil
}

// ProjectOwner returns the owning user of a project
func (s *PostgresService) ProjectOwner(ctx context.Context, projectID int64) (int64, error) {
	var ownerID int64
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id = $1`, projectID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tenancy.ErrProjectNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get project owner: %w", err)
	}
	return ownerID, nil
}

// RoleOf returns the role of the user's active membership, or nil
func (s *PostgresService) RoleOf(ctx context.Context, projectID, userID int64) (*rbac.Role, error) {
	if err := s.enforcer.Scope("membership", projectID); err != nil {
		return nil, err
	}

	var role rbac.Role
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.slug, r.name, r.level, r.description, r.created_at
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.project_id = $1 AND m.user_id = $2 AND m.status = $3
	`, projectID, userID, MembershipActive).Scan(&role.ID, &role.Slug, &role.Name, &role.Level, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func roleIDBySlug(ctx context.Context, q querier, slug string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM roles WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tenancy.ErrRoleNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve role %s: %w", slug, err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row scanner) (*Project, error) {
	project := &Project{}
	var settingsJSON []byte
	err := row.Scan(
		&project.ID, &project.Name, &project.Slug, &project.OwnerID, &project.Status,
		&project.LogoURL, &project.PrimaryColor, &settingsJSON, &project.CreatedAt, &project.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &project.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return project, nil
}

// isUniqueViolation recognises unique constraint failures from Postgres
// and from the SQLite test driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
