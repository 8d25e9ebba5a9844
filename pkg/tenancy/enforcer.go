package tenancy

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// MembershipChecker answers whether a user may access a project at all.
type MembershipChecker interface {
	HasAccess(ctx context.Context, projectID, userID int64) (bool, error)
}

// Enforcer guards tenant isolation.
//
// Writes of Scoped entities go through Admit, scoped reads through Scope and
// per-request membership through RequireMember. In strict mode a scoping
// violation panics; otherwise it is logged as a critical alert and returned.
type Enforcer struct {
	members MembershipChecker
	logger  *observability.Logger
	metrics *observability.Metrics
	strict  bool
}

// NewEnforcer creates a new tenancy enforcer
func NewEnforcer(members MembershipChecker, logger *observability.Logger, strict bool) *Enforcer {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Enforcer{
		members: members,
		logger:  logger,
		strict:  strict,
	}
}

// WithMetrics attaches Prometheus metrics to the enforcer
func (e *Enforcer) WithMetrics(metrics *observability.Metrics) *Enforcer {
	e.metrics = metrics
	return e
}

// SetMembershipChecker sets the membership source. It exists because the
// membership registry itself needs an enforcer at construction time.
func (e *Enforcer) SetMembershipChecker(members MembershipChecker) {
	e.members = members
}

// Strict reports whether violations panic.
func (e *Enforcer) Strict() bool {
	return e.strict
}

// Admit validates a scoped entity before it is written.
func (e *Enforcer) Admit(entity Scoped, operation string) error {
	if entity == nil {
		return e.violation("unknown", operation)
	}
	if entity.TenantID() <= 0 {
		return e.violation(entity.EntityType(), operation)
	}
	return nil
}

// Scope validates the project id of a scoped read or write.
func (e *Enforcer) Scope(entityType string, projectID int64) error {
	if projectID <= 0 {
		return e.violation(entityType, "query")
	}
	return nil
}

// RequireMember confirms that the actor holds an active membership in the
// project or is a global admin.
func (e *Enforcer) RequireMember(ctx context.Context, actor Actor, projectID int64) error {
	if err := e.Scope("membership", projectID); err != nil {
		return err
	}
	if actor.GlobalAdmin {
		return nil
	}
	if actor.IsSystem() {
		return &NotAMemberError{ProjectID: projectID}
	}
	if e.members == nil {
		return fmt.Errorf("membership checker not configured")
	}

	ok, err := e.members.HasAccess(ctx, projectID, actor.UserID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return &NotAMemberError{ProjectID: projectID, UserID: actor.UserID}
	}
	return nil
}

func (e *Enforcer) violation(entityType, operation string) error {
	err := &ScopingViolationError{EntityType: entityType, Operation: operation}
	e.metrics.RecordScopingViolation(entityType)
	if e.strict {
		panic(err)
	}
	e.logger.WithError(err).
		WithField("alert", "critical").
		WithField("entity_type", entityType).
		WithField("operation", operation).
		Error("tenant scoping violation")
	return err
}
