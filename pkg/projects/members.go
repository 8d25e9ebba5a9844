package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

const membershipColumns = `m.id, m.project_id, m.user_id, m.role_id, r.slug, m.status, m.invited_by,
	u.name, u.email, m.created_at, m.updated_at`

const membershipFrom = `FROM memberships m
	JOIN roles r ON r.id = m.role_id
	JOIN users u ON u.id = m.user_id`

// Assign creates or reactivates the membership of a user. It fails with
// AlreadyMemberError when an active membership exists; role changes go
// through UpdateRole.
func (s *PostgresService) Assign(ctx context.Context, projectID int64, actor tenancy.Actor, userID int64, roleSlug string) (*Membership, error) {
	if err := s.enforcer.Admit(&Membership{ProjectID: projectID, UserID: userID}, "create"); err != nil {
		return nil, err
	}
	if _, err := s.ProjectOwner(ctx, projectID); err != nil {
		return nil, err
	}
	// the user must exist
	if _, err := s.IsGlobalAdmin(ctx, userID); err != nil {
		return nil, err
	}
	roleID, err := s.grantableRole(ctx, projectID, actor, roleSlug)
	if err != nil {
		return nil, err
	}

	before, err := s.GetMembership(ctx, projectID, userID)
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return nil, err
	}

	membershipID, err := upsertMembership(ctx, s.db, projectID, userID, roleID, MembershipActive, actor.ID(), s.now())
	if err != nil {
		return nil, err
	}

	after, err := s.GetMembership(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMembershipChange("assign")
	s.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionCreated,
		EntityType: "membership",
		EntityID:   strconv.FormatInt(membershipID, 10),
		Before:     before,
		After:      after,
		Area:       audit.AreaMembers,
	})
	return after, nil
}

// upsertMembership inserts a membership or revives a non-active one. It
// returns AlreadyMemberError when the existing row is active.
func upsertMembership(ctx context.Context, q querier, projectID, userID, roleID int64, status MembershipStatus, invitedBy *int64, now time.Time) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO memberships (project_id, user_id, role_id, status, invited_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET role_id = excluded.role_id, status = excluded.status, invited_by = excluded.invited_by,
			updated_at = excluded.updated_at
		WHERE memberships.status <> 'active'
		RETURNING id
	`, projectID, userID, roleID, status, invitedBy, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &tenancy.AlreadyMemberError{ProjectID: projectID, UserID: userID}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save membership: %w", err)
	}
	return id, nil
}

// UpdateRole changes the role of an active membership in place
func (s *PostgresService) UpdateRole(ctx context.Context, projectID int64, actor tenancy.Actor, userID int64, roleSlug string) (*Membership, error) {
	before, err := s.activeMembership(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.guardOwner(ctx, projectID, userID); err != nil {
		return nil, err
	}
	roleID, err := s.grantableRole(ctx, projectID, actor, roleSlug)
	if err != nil {
		return nil, err
	}
	if roleID == before.RoleID {
		return before, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET role_id = $1, updated_at = $2
		WHERE project_id = $3 AND user_id = $4 AND status = $5
	`, roleID, s.now(), projectID, userID, MembershipActive)
	if err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, &tenancy.NotAMemberError{ProjectID: projectID, UserID: userID}
	}

	after, err := s.GetMembership(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMembershipChange("update_role")
	s.recorder.Record(ctx, audit.Event{
		ProjectID:   projectID,
		Actor:       actor,
		Action:      audit.ActionUpdated,
		EntityType:  "membership",
		EntityID:    strconv.FormatInt(after.ID, 10),
		Before:      before,
		After:       after,
		Area:        audit.AreaMembers,
		Description: fmt.Sprintf("role changed from %s to %s", before.Role, after.Role),
	})
	return after, nil
}

// Remove marks a membership removed. The row is kept so the audit trail
// can refer to it. It reports whether there was a membership to remove.
func (s *PostgresService) Remove(ctx context.Context, projectID int64, actor tenancy.Actor, userID int64) (bool, error) {
	if err := s.enforcer.Scope("membership", projectID); err != nil {
		return false, err
	}

	before, err := s.GetMembership(ctx, projectID, userID)
	if errors.Is(err, ErrMembershipNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if before.Status == MembershipRemoved {
		return false, nil
	}
	if err := s.guardOwner(ctx, projectID, userID); err != nil {
		return false, err
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE memberships SET status = $1, updated_at = $2
		WHERE project_id = $3 AND user_id = $4 AND status <> $1
	`, MembershipRemoved, now, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}
	if err := voidPendingInvitations(ctx, tx, before.ID, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit removal: %w", err)
	}

	after := *before
	after.Status = MembershipRemoved

	s.metrics.RecordMembershipChange("remove")
	s.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionDeleted,
		EntityType: "membership",
		EntityID:   strconv.FormatInt(before.ID, 10),
		Before:     before,
		After:      &after,
		Area:       audit.AreaMembers,
	})
	return true, nil
}

// GetMembership returns the membership of a user in any status
func (s *PostgresService) GetMembership(ctx context.Context, projectID, userID int64) (*Membership, error) {
	if err := s.enforcer.Scope("membership", projectID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+membershipColumns+` `+membershipFrom+`
		WHERE m.project_id = $1 AND m.user_id = $2`, projectID, userID)
	return scanMembership(row)
}

// ListMembers lists the active and invited members of a project, highest
// role first
func (s *PostgresService) ListMembers(ctx context.Context, projectID int64) ([]*Membership, error) {
	if err := s.enforcer.Scope("membership", projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+membershipColumns+` `+membershipFrom+`
		WHERE m.project_id = $1 AND m.status <> $2
		ORDER BY r.level DESC, u.name, m.id`, projectID, MembershipRemoved)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		member, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read members: %w", err)
	}
	return members, nil
}

func (s *PostgresService) activeMembership(ctx context.Context, projectID, userID int64) (*Membership, error) {
	membership, err := s.GetMembership(ctx, projectID, userID)
	if errors.Is(err, ErrMembershipNotFound) || (err == nil && membership.Status != MembershipActive) {
		return nil, &tenancy.NotAMemberError{ProjectID: projectID, UserID: userID}
	}
	return membership, err
}

// guardOwner rejects changes to the owning user's membership; ownership
// transfer is not supported
func (s *PostgresService) guardOwner(ctx context.Context, projectID, userID int64) error {
	ownerID, err := s.ProjectOwner(ctx, projectID)
	if err != nil {
		return err
	}
	if ownerID == userID {
		return ErrOwnerMembership
	}
	return nil
}

// grantableRole resolves the role actor wants to grant. The owner role
// belongs to the owning user alone. Apart from the owning user and global
// admins, an actor cannot grant a role above their own level.
func (s *PostgresService) grantableRole(ctx context.Context, projectID int64, actor tenancy.Actor, roleSlug string) (int64, error) {
	if roleSlug == rbac.RoleOwner {
		return 0, ErrOwnerRoleGrant
	}

	var roleID int64
	var level int
	err := s.db.QueryRowContext(ctx, `SELECT id, level FROM roles WHERE slug = $1`, roleSlug).Scan(&roleID, &level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tenancy.ErrRoleNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve role %s: %w", roleSlug, err)
	}

	if actor.GlobalAdmin {
		return roleID, nil
	}
	ownerID, err := s.ProjectOwner(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if actor.UserID == ownerID {
		return roleID, nil
	}

	var actorLevel int
	err = s.db.QueryRowContext(ctx, `
		SELECT r.level FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.project_id = $1 AND m.user_id = $2 AND m.status = $3
	`, projectID, actor.UserID, MembershipActive).Scan(&actorLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &tenancy.NotAMemberError{ProjectID: projectID, UserID: actor.UserID}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get actor role: %w", err)
	}
	if level > actorLevel {
		return 0, &tenancy.ForbiddenError{ProjectID: projectID, UserID: actor.UserID, Action: "grant_" + roleSlug}
	}
	return roleID, nil
}

// voidPendingInvitations expires the unaccepted invitations of a
// membership so their tokens stop working
func voidPendingInvitations(ctx context.Context, q querier, membershipID int64, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE invitations SET expires_at = $1
		WHERE membership_id = $2 AND accepted_at IS NULL AND expires_at > $1
	`, now, membershipID)
	if err != nil {
		return fmt.Errorf("failed to void invitations: %w", err)
	}
	return nil
}

func scanMembership(row scanner) (*Membership, error) {
	m := &Membership{}
	var invitedBy sql.NullInt64
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.UserID, &m.RoleID, &m.Role, &m.Status, &invitedBy,
		&m.UserName, &m.UserEmail, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	if invitedBy.Valid {
		id := invitedBy.Int64
		m.InvitedBy = &id
	}
	return m, nil
}
