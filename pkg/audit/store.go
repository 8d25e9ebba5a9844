package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// ErrEntryNotFound is returned when an entry does not exist in the project
var ErrEntryNotFound = fmt.Errorf("audit entry %w", tenancy.ErrNotFound)

// Store provides methods for writing and querying the audit log
type Store interface {
	// Insert appends one entry
	Insert(ctx context.Context, entry *Entry) error

	// Search returns entries of one project matching the filter
	Search(ctx context.Context, filter Filter) ([]*Entry, error)

	// Get retrieves one entry of a project by id
	Get(ctx context.Context, projectID, id int64) (*Entry, error)

	// Stats summarizes entries of a project in a time range
	Stats(ctx context.Context, projectID int64, from, to *time.Time) (*Stats, error)

	// Export renders the matching entries in the given format
	Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error)
}

// DBStore implements Store on the audit_log table
type DBStore struct {
	db       *sql.DB
	enforcer *tenancy.Enforcer
	now      func() time.Time
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(db *sql.DB, enforcer *tenancy.Enforcer) *DBStore {
	return &DBStore{
		db:       db,
		enforcer: enforcer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const entryColumns = `id, project_id, actor_id, action, entity_type, entity_id, before_state, after_state,
	ip_address, user_agent, description, area, created_at`

// Insert appends one entry. The audit_log table rejects updates and deletes.
func (s *DBStore) Insert(ctx context.Context, entry *Entry) error {
	if err := s.enforcer.Admit(entry, "create"); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (project_id, actor_id, action, entity_type, entity_id, before_state, after_state,
			ip_address, user_agent, description, area, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		entry.ProjectID, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID,
		nullJSON(entry.Before), nullJSON(entry.After),
		entry.IPAddress, entry.UserAgent, entry.Description, entry.Area, entry.CreatedAt.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Search returns entries of one project, newest first by default
func (s *DBStore) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	if err := s.enforcer.Scope("audit_entry", filter.ProjectID); err != nil {
		return nil, err
	}

	where, args := filterClause(filter)
	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}

	query := `SELECT ` + entryColumns + ` FROM audit_log WHERE ` + where +
		` ORDER BY created_at ` + order + `, id ` + order
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}

// Get retrieves one entry of a project by id. Entries of other projects
// are reported as not found.
func (s *DBStore) Get(ctx context.Context, projectID, id int64) (*Entry, error) {
	if err := s.enforcer.Scope("audit_entry", projectID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_log WHERE project_id = $1 AND id = $2`, projectID, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// Stats summarizes the entries of a project
func (s *DBStore) Stats(ctx context.Context, projectID int64, from, to *time.Time) (*Stats, error) {
	if err := s.enforcer.Scope("audit_entry", projectID); err != nil {
		return nil, err
	}

	where, args := filterClause(Filter{ProjectID: projectID, From: from, To: to})
	stats := &Stats{
		ProjectID:    projectID,
		ByAction:     make(map[string]int64),
		ByEntityType: make(map[string]int64),
		ByArea:       make(map[string]int64),
		From:         from,
		To:           to,
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT actor_id) FROM audit_log WHERE `+where, args...).
		Scan(&stats.Total, &stats.UniqueActors)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	groups := []struct {
		column string
		into   map[string]int64
	}{
		{"action", stats.ByAction},
		{"entity_type", stats.ByEntityType},
		{"area", stats.ByArea},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, where, args, g.into); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *DBStore) countBy(ctx context.Context, column, where string, args []interface{}, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM audit_log WHERE `+where+` GROUP BY `+column, args...)
	if err != nil {
		return fmt.Errorf("failed to group audit entries by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan audit stats: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// Export renders the matching entries in the given format
func (s *DBStore) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := s.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Render(entries, format)
}

// ProjectsWithEntries lists the projects that have entries in [from, to).
// It is used by the archiver, which then reads each project separately.
func (s *DBStore) ProjectsWithEntries(ctx context.Context, from, to time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM audit_log
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY project_id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list audited projects: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// filterClause builds the WHERE clause. Placeholders are numbered in the
// order they appear.
func filterClause(f Filter) (string, []interface{}) {
	conditions := []string{"project_id = $1"}
	args := []interface{}{f.ProjectID}

	add := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Area != "" {
		add("area = $%d", f.Area)
	}
	if f.From != nil {
		add("created_at >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("created_at < $%d", f.To.UTC())
	}

	return strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry   Entry
		actorID sql.NullInt64
		before  []byte
		after   []byte
	)
	err := row.Scan(
		&entry.ID, &entry.ProjectID, &actorID, &entry.Action, &entry.TargetType, &entry.TargetID,
		&before, &after, &entry.IPAddress, &entry.UserAgent, &entry.Description, &entry.Area, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	if actorID.Valid {
		id := actorID.Int64
		entry.ActorID = &id
	}
	if len(before) > 0 {
		entry.Before = before
	}
	if len(after) > 0 {
		entry.After = after
	}
	return &entry, nil
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
