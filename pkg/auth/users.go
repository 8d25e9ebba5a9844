package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// UserStore persists users
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const userColumns = `id, name, email, is_blocked, is_global_admin, created_at, updated_at`

// CreateUser creates a user. Emails are stored lower-cased.
func (s *UserStore) CreateUser(ctx context.Context, name, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required")
	}

	now := s.now()
	user := &User{Name: name, Email: email, CreatedAt: now, UpdatedAt: now}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, is_blocked, is_global_admin, created_at, updated_at)
		VALUES ($1, $2, FALSE, FALSE, $3, $4)
		RETURNING id
	`, name, email, now, now).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by id
func (s *UserStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// SetBlocked blocks or unblocks a user. Blocking also revokes every API
// token of the user in the same transaction.
func (s *UserStore) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET is_blocked = $1, updated_at = $2 WHERE id = $3`, blocked, now, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return tenancy.ErrUserNotFound
	}

	if blocked {
		if _, err := tx.ExecContext(ctx,
			`UPDATE api_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`, now, id); err != nil {
			return fmt.Errorf("failed to revoke tokens: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetGlobalAdmin grants or removes the global admin flag
func (s *UserStore) SetGlobalAdmin(ctx context.Context, id int64, admin bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_global_admin = $1, updated_at = $2 WHERE id = $3`, admin, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return tenancy.ErrUserNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Blocked, &user.GlobalAdmin, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
