// Package sqlitetest provides an in-memory SQLite database with the same
// tables as the PostgreSQL schema, for package tests.
package sqlitetest

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Role ids created by SeedRoles
const (
	OwnerRoleID  int64 = 1
	AdminRoleID  int64 = 2
	MemberRoleID int64 = 3
)

const schema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	is_blocked BOOLEAN NOT NULL DEFAULT 0,
	is_global_admin BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE api_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	token_prefix TEXT NOT NULL,
	expires_at DATETIME,
	last_used_at DATETIME,
	revoked_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	level INTEGER NOT NULL CHECK (level > 0),
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE permissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	area TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE role_permissions (
	role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
	permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
	PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	owner_id INTEGER NOT NULL REFERENCES users(id),
	status TEXT NOT NULL DEFAULT 'active',
	logo_url TEXT NOT NULL DEFAULT '',
	primary_color TEXT NOT NULL DEFAULT '',
	settings TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE memberships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role_id INTEGER NOT NULL REFERENCES roles(id),
	status TEXT NOT NULL DEFAULT 'active',
	invited_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(project_id, user_id)
);

CREATE TABLE invitations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	membership_id INTEGER NOT NULL REFERENCES memberships(id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	invited_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
	expires_at DATETIME NOT NULL,
	accepted_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE modules (
	key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	sort_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE project_modules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	module_key TEXT NOT NULL REFERENCES modules(key),
	enabled BOOLEAN NOT NULL DEFAULT 0,
	config TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(project_id, module_key)
);

CREATE TABLE audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	actor_id INTEGER,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	before_state TEXT,
	after_state TEXT,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	area TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TRIGGER audit_log_no_update BEFORE UPDATE ON audit_log
BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;

CREATE TRIGGER audit_log_no_delete BEFORE DELETE ON audit_log
BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
`

// NewDB opens an in-memory database with the full schema. The pool is
// limited to one connection because every connection to ":memory:" is a
// separate database.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// SeedRoles inserts owner/admin/member roles with levels 100/50/10 and a
// small permission set.
func SeedRoles(t *testing.T, db *sql.DB) {
	t.Helper()

	mustExec(t, db, `INSERT INTO roles (id, slug, name, level) VALUES
		(1, 'owner', 'Owner', 100),
		(2, 'admin', 'Admin', 50),
		(3, 'member', 'Member', 10)`)
	mustExec(t, db, `INSERT INTO permissions (id, slug, area) VALUES
		(1, 'products.view', 'products'),
		(2, 'products.create', 'products'),
		(3, 'products.delete', 'products'),
		(4, 'members.view', 'members')`)
	mustExec(t, db, `INSERT INTO role_permissions (role_id, permission_id) VALUES
		(1, 1), (1, 2), (1, 3), (1, 4),
		(2, 1), (2, 2), (2, 4),
		(3, 1), (3, 4)`)
}

// CreateUser inserts a user and returns its id
func CreateUser(t *testing.T, db *sql.DB, name, email string, globalAdmin bool) int64 {
	t.Helper()

	res, err := db.Exec(
		`INSERT INTO users (name, email, is_global_admin, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		name, email, globalAdmin, time.Now().UTC(), time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// CreateModule inserts a module reference row
func CreateModule(t *testing.T, db *sql.DB, key string, active bool) {
	t.Helper()
	mustExec(t, db, `INSERT INTO modules (key, name, is_active) VALUES ($1, $2, $3)`, key, key, active)
}

// CreateProject inserts a project row directly, bypassing the registry
func CreateProject(t *testing.T, db *sql.DB, slug string, ownerID int64) int64 {
	t.Helper()

	now := time.Now().UTC()
	res, err := db.Exec(
		`INSERT INTO projects (name, slug, owner_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		slug, slug, ownerID, now, now,
	)
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// AddMembership inserts a membership row directly
func AddMembership(t *testing.T, db *sql.DB, projectID, userID, roleID int64, status string) {
	t.Helper()

	now := time.Now().UTC()
	mustExec(t, db,
		`INSERT INTO memberships (project_id, user_id, role_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		projectID, userID, roleID, status, now, now,
	)
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v\n%s", err, query)
	}
}
