package projects

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Invite offers membership to an existing user. The membership is created
// (or revived) in the invited state and becomes active once the user
// accepts. The raw token is returned only here.
func (s *PostgresService) Invite(ctx context.Context, projectID int64, actor tenancy.Actor, email, roleSlug string) (*Invitation, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, "", fmt.Errorf("%w: email is required", tenancy.ErrInvalidInput)
	}
	if err := s.enforcer.Scope("invitation", projectID); err != nil {
		return nil, "", err
	}
	if _, err := s.ProjectOwner(ctx, projectID); err != nil {
		return nil, "", err
	}

	var userID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", tenancy.ErrUserNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}

	roleID, err := s.grantableRole(ctx, projectID, actor, roleSlug)
	if err != nil {
		return nil, "", err
	}

	token := uuid.NewString()
	now := s.now()
	invitation := &Invitation{
		ProjectID: projectID,
		Email:     email,
		Role:      roleSlug,
		InvitedBy: actor.ID(),
		ExpiresAt: now.Add(s.invitationTTL),
		CreatedAt: now,
	}
	if err := s.enforcer.Admit(invitation, "create"); err != nil {
		return nil, "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	invitation.MembershipID, err = upsertMembership(ctx, tx, projectID, userID, roleID, MembershipInvited, actor.ID(), now)
	if err != nil {
		return nil, "", err
	}
	// a renewed invitation replaces the earlier ones
	if err := voidPendingInvitations(ctx, tx, invitation.MembershipID, now); err != nil {
		return nil, "", err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invitations (project_id, membership_id, email, token_hash, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, projectID, invitation.MembershipID, email, hashInvitationToken(token), actor.ID(),
		invitation.ExpiresAt, now).Scan(&invitation.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit invitation: %w", err)
	}

	s.metrics.RecordMembershipChange("invite")
	s.recorder.Record(ctx, audit.Event{
		ProjectID:  projectID,
		Actor:      actor,
		Action:     audit.ActionInvited,
		EntityType: "invitation",
		EntityID:   strconv.FormatInt(invitation.ID, 10),
		After:      invitation,
		Area:       audit.AreaMembers,
	})
	return invitation, token, nil
}

// AcceptInvitation activates the invited membership of the acting user.
// Invitations addressed to other users are reported as not found.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, actor tenancy.Actor) (*Membership, error) {
	var (
		invitation Invitation
		invitedBy  sql.NullInt64
		acceptedAt sql.NullTime
		userID     int64
		status     MembershipStatus
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.project_id, i.membership_id, i.email, r.slug, i.invited_by, i.expires_at, i.accepted_at,
			i.created_at, m.user_id, m.status
		FROM invitations i
		JOIN memberships m ON m.id = i.membership_id
		JOIN roles r ON r.id = m.role_id
		WHERE i.token_hash = $1
	`, hashInvitationToken(token)).Scan(
		&invitation.ID, &invitation.ProjectID, &invitation.MembershipID, &invitation.Email, &invitation.Role,
		&invitedBy, &invitation.ExpiresAt, &acceptedAt, &invitation.CreatedAt, &userID, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	now := s.now()
	switch {
	case userID != actor.UserID:
		return nil, ErrInvitationNotFound
	case acceptedAt.Valid:
		return nil, ErrInvitationUsed
	case status == MembershipActive:
		return nil, &tenancy.AlreadyMemberError{ProjectID: invitation.ProjectID, UserID: userID}
	case status != MembershipInvited:
		return nil, ErrInvitationNotFound
	case !now.Before(invitation.ExpiresAt):
		return nil, ErrInvitationExpired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE invitations SET accepted_at = $1 WHERE id = $2 AND accepted_at IS NULL`,
		now, invitation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, ErrInvitationUsed
	}

	result, err = tx.ExecContext(ctx, `UPDATE memberships SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		MembershipActive, now, invitation.MembershipID, MembershipInvited)
	if err != nil {
		return nil, fmt.Errorf("failed to activate membership: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, ErrInvitationNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	membership, err := s.GetMembership(ctx, invitation.ProjectID, userID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMembershipChange("accept")
	s.recorder.Record(ctx, audit.Event{
		ProjectID:  invitation.ProjectID,
		Actor:      actor,
		Action:     audit.ActionAccepted,
		EntityType: "membership",
		EntityID:   strconv.FormatInt(membership.ID, 10),
		After:      membership,
		Area:       audit.AreaMembers,
	})
	return membership, nil
}

type expiredInvitation struct {
	projectID    int64
	membershipID int64
	userID       int64
}

// ExpireInvitations removes invited memberships whose every pending
// invitation has expired at now. It returns the number of memberships
// removed. Audit entries are written by the system actor.
func (s *PostgresService) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT i.project_id, i.membership_id, m.user_id
		FROM invitations i
		JOIN memberships m ON m.id = i.membership_id
		WHERE i.accepted_at IS NULL AND i.expires_at <= $1 AND m.status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM invitations p
			WHERE p.membership_id = i.membership_id AND p.accepted_at IS NULL AND p.expires_at > $1
		  )
		ORDER BY i.membership_id
	`, now, MembershipInvited)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired invitations: %w", err)
	}

	var expired []expiredInvitation
	for rows.Next() {
		var e expiredInvitation
		if err := rows.Scan(&e.projectID, &e.membershipID, &e.userID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired invitation: %w", err)
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read expired invitations: %w", err)
	}

	var removed []expiredInvitation
	for _, e := range expired {
		result, err := tx.ExecContext(ctx, `UPDATE memberships SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			MembershipRemoved, now, e.membershipID, MembershipInvited)
		if err != nil {
			return 0, fmt.Errorf("failed to expire membership %d: %w", e.membershipID, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			removed = append(removed, e)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit expiry: %w", err)
	}

	for _, e := range removed {
		s.metrics.RecordMembershipChange("expire")
		s.recorder.Record(ctx, audit.Event{
			ProjectID:   e.projectID,
			Actor:       tenancy.System(),
			Action:      audit.ActionExpired,
			EntityType:  "membership",
			EntityID:    strconv.FormatInt(e.membershipID, 10),
			After:       map[string]interface{}{"user_id": e.userID, "status": MembershipRemoved},
			Area:        audit.AreaMembers,
			Description: "invitation expired",
		})
	}
	return len(removed), nil
}

func hashInvitationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
