package modules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// PostgresRegistry implements Registry on the modules and project_modules
// tables
type PostgresRegistry struct {
	db       *sql.DB
	enforcer *tenancy.Enforcer
	recorder Recorder
	metrics  *observability.Metrics
	now      func() time.Time
}

var _ Registry = (*PostgresRegistry)(nil)

// NewPostgresRegistry creates a new registry. A nil recorder drops audit
// events.
func NewPostgresRegistry(db *sql.DB, enforcer *tenancy.Enforcer, recorder Recorder) *PostgresRegistry {
	if recorder == nil {
		recorder = discardRecorder{}
	}
	return &PostgresRegistry{
		db:       db,
		enforcer: enforcer,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches the gate denial counter
func (r *PostgresRegistry) WithMetrics(metrics *observability.Metrics) *PostgresRegistry {
	r.metrics = metrics
	return r
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, audit.Event) {}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ListAvailable returns the modules that can be enabled
func (r *PostgresRegistry) ListAvailable(ctx context.Context) ([]*Module, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, name, description, icon, is_active, sort_order
		FROM modules
		WHERE is_active
		ORDER BY sort_order, key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []*Module
	for rows.Next() {
		m := &Module{}
		if err := rows.Scan(&m.Key, &m.Name, &m.Description, &m.Icon, &m.Active, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read modules: %w", err)
	}
	return modules, nil
}

// IsEnabled reports whether the module is enabled for the project and
// still offered
func (r *PostgresRegistry) IsEnabled(ctx context.Context, projectID int64, key string) (bool, error) {
	if err := r.enforcer.Scope("project_module", projectID); err != nil {
		return false, err
	}

	var enabled bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM project_modules pm
			JOIN modules m ON m.key = pm.module_key
			WHERE pm.project_id = $1 AND pm.module_key = $2 AND pm.enabled AND m.is_active
		)
	`, projectID, key).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("failed to check module %s: %w", key, err)
	}
	return enabled, nil
}

// EnabledKeys returns the sorted keys of the modules enabled for a project
func (r *PostgresRegistry) EnabledKeys(ctx context.Context, projectID int64) ([]string, error) {
	if err := r.enforcer.Scope("project_module", projectID); err != nil {
		return nil, err
	}
	return enabledKeys(ctx, r.db, projectID)
}

func enabledKeys(ctx context.Context, q querier, projectID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT pm.module_key
		FROM project_modules pm
		JOIN modules m ON m.key = pm.module_key
		WHERE pm.project_id = $1 AND pm.enabled AND m.is_active
		ORDER BY pm.module_key
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled modules: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan module key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListProjectModules returns every module row the project has touched,
// enabled or not
func (r *PostgresRegistry) ListProjectModules(ctx context.Context, projectID int64) ([]*ProjectModule, error) {
	if err := r.enforcer.Scope("project_module", projectID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, module_key, enabled, config, created_at, updated_at
		FROM project_modules
		WHERE project_id = $1
		ORDER BY module_key
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project modules: %w", err)
	}
	defer rows.Close()

	var out []*ProjectModule
	for rows.Next() {
		pm, err := scanProjectModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

// Enable turns a module on for a project, creating its row on first use.
// With ConfigMerge the given keys are overlaid on the stored configuration;
// a nil config keeps it as is.
func (r *PostgresRegistry) Enable(ctx context.Context, projectID int64, actor tenancy.Actor, key string, config map[string]interface{}, mode ConfigMode) (*ProjectModule, error) {
	ctx, span := observability.Tracer().Start(ctx, "modules.Enable")
	defer span.End()
	span.SetAttributes(attribute.String("module.key", key), attribute.Int64("project.id", projectID))

	pm := &ProjectModule{ProjectID: projectID, ModuleKey: key, Enabled: true}
	if err := r.enforcer.Admit(pm, "enable"); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireOffered(ctx, tx, key); err != nil {
		span.RecordError(err)
		return nil, err
	}

	before, err := getProjectModule(ctx, tx, projectID, key)
	if err != nil {
		return nil, err
	}

	switch {
	case before == nil && config == nil:
		pm.Config = map[string]interface{}{}
	case before == nil, mode == ConfigReplace && config != nil:
		pm.Config = config
	case config == nil:
		pm.Config = before.Config
	default:
		pm.Config = mergeConfig(before.Config, config)
	}
	configJSON, err := json.Marshal(pm.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal module config: %w", err)
	}

	now := r.now()
	pm.CreatedAt, pm.UpdatedAt = now, now
	if before != nil {
		pm.CreatedAt = before.CreatedAt
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO project_modules (project_id, module_key, enabled, config, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4, $4)
		ON CONFLICT (project_id, module_key) DO UPDATE
		SET enabled = TRUE, config = excluded.config, updated_at = excluded.updated_at
		RETURNING id
	`, projectID, key, string(configJSON), now).Scan(&pm.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to enable module %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit module %s: %w", key, err)
	}

	r.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionEnabledModule,
		EntityType: "project_module",
		EntityID:   key,
		Before:     before,
		After:      pm,
		Area:       audit.AreaModules,
	})
	return pm, nil
}

// Disable turns a module off and keeps its configuration. It reports
// whether the module was enabled before the call.
func (r *PostgresRegistry) Disable(ctx context.Context, projectID int64, actor tenancy.Actor, key string) (bool, error) {
	ctx, span := observability.Tracer().Start(ctx, "modules.Disable")
	defer span.End()
	span.SetAttributes(attribute.String("module.key", key), attribute.Int64("project.id", projectID))

	if err := r.enforcer.Scope("project_module", projectID); err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := lookupModule(ctx, tx, key); err != nil {
		return false, err
	}

	before, err := getProjectModule(ctx, tx, projectID, key)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE project_modules SET enabled = FALSE, updated_at = $1
		WHERE project_id = $2 AND module_key = $3 AND enabled
	`, r.now(), projectID, key)
	if err != nil {
		return false, fmt.Errorf("failed to disable module %s: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit module %s: %w", key, err)
	}

	var after *ProjectModule
	if before != nil {
		disabled := *before
		disabled.Enabled = false
		after = &disabled
	}

	r.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionDisabledModule,
		EntityType: "project_module",
		EntityID:   key,
		Before:     before,
		After:      after,
		Area:       audit.AreaModules,
	})
	return rowsAffected > 0, nil
}

// ReplaceEnabled leaves exactly keys enabled for the project in one
// transaction. Other rows of the project are disabled with their
// configuration intact; no rows are created for keys outside the set.
func (r *PostgresRegistry) ReplaceEnabled(ctx context.Context, projectID int64, actor tenancy.Actor, keys []string) ([]string, error) {
	ctx, span := observability.Tracer().Start(ctx, "modules.ReplaceEnabled")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("module.keys", keys), attribute.Int64("project.id", projectID))

	if err := r.enforcer.Scope("project_module", projectID); err != nil {
		return nil, err
	}
	keys = normalizeKeys(keys)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if err := requireOffered(ctx, tx, key); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	before, err := enabledKeys(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	args := []interface{}{now, projectID}
	query := `UPDATE project_modules SET enabled = FALSE, updated_at = $1 WHERE project_id = $2 AND enabled`
	if len(keys) > 0 {
		placeholders := make([]string, len(keys))
		for i, key := range keys {
			args = append(args, key)
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		query += ` AND module_key NOT IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to disable modules: %w", err)
	}

	for _, key := range keys {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_modules (project_id, module_key, enabled, config, created_at, updated_at)
			VALUES ($1, $2, TRUE, '{}', $3, $3)
			ON CONFLICT (project_id, module_key) DO UPDATE
			SET enabled = TRUE, updated_at = excluded.updated_at
			WHERE project_modules.enabled = FALSE
		`, projectID, key, now)
		if err != nil {
			return nil, fmt.Errorf("failed to enable module %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit module set: %w", err)
	}

	r.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionReplacedModules,
		EntityType: "project_modules",
		EntityID:   strconv.FormatInt(projectID, 10),
		Before:     map[string]interface{}{"enabled": before},
		After:      map[string]interface{}{"enabled": keys},
		Area:       audit.AreaModules,
	})
	return keys, nil
}

// EnsureEnabled is the guard every module-gated operation calls first. It
// returns a ModuleNotEnabledError carrying the key when the module is off.
func (r *PostgresRegistry) EnsureEnabled(ctx context.Context, projectID int64, key string) error {
	enabled, err := r.IsEnabled(ctx, projectID, key)
	if err != nil {
		return err
	}
	if !enabled {
		r.metrics.RecordGateDenial(key)
		return &tenancy.ModuleNotEnabledError{Key: key, ProjectID: projectID}
	}
	return nil
}

// GetConfig returns the stored configuration of an enabled module
func (r *PostgresRegistry) GetConfig(ctx context.Context, projectID int64, key string) (map[string]interface{}, error) {
	if err := r.EnsureEnabled(ctx, projectID, key); err != nil {
		return nil, err
	}

	pm, err := getProjectModule(ctx, r.db, projectID, key)
	if err != nil {
		return nil, err
	}
	if pm == nil {
		return nil, &tenancy.ModuleNotEnabledError{Key: key, ProjectID: projectID}
	}
	return pm.Config, nil
}

// lookupModule returns the catalog row of key or ErrModuleNotFound
func lookupModule(ctx context.Context, q querier, key string) (*Module, error) {
	m := &Module{}
	err := q.QueryRowContext(ctx, `
		SELECT key, name, description, icon, is_active, sort_order FROM modules WHERE key = $1
	`, key).Scan(&m.Key, &m.Name, &m.Description, &m.Icon, &m.Active, &m.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", tenancy.ErrModuleNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module %s: %w", key, err)
	}
	return m, nil
}

// requireOffered rejects unknown and inactive modules
func requireOffered(ctx context.Context, q querier, key string) error {
	m, err := lookupModule(ctx, q, key)
	if err != nil {
		return err
	}
	if !m.Active {
		return fmt.Errorf("%w: %s is not offered", tenancy.ErrModuleNotFound, key)
	}
	return nil
}

// getProjectModule returns the row for (project, key) or nil
func getProjectModule(ctx context.Context, q querier, projectID int64, key string) (*ProjectModule, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, project_id, module_key, enabled, config, created_at, updated_at
		FROM project_modules
		WHERE project_id = $1 AND module_key = $2
	`, projectID, key)
	pm, err := scanProjectModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return pm, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProjectModule(row scanner) (*ProjectModule, error) {
	pm := &ProjectModule{}
	var configJSON []byte
	err := row.Scan(&pm.ID, &pm.ProjectID, &pm.ModuleKey, &pm.Enabled, &configJSON, &pm.CreatedAt, &pm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project module: %w", err)
	}

	pm.Config = map[string]interface{}{}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &pm.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal module config: %w", err)
		}
	}
	return pm, nil
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
