package rbac

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Directory answers the membership questions the evaluator needs. It is
// implemented by the project registry.
type Directory interface {
	// ProjectOwner returns the owning user of a project or
	// tenancy.ErrProjectNotFound.
	ProjectOwner(ctx context.Context, projectID int64) (int64, error)
	// RoleOf returns the role of the active membership, or nil.
	RoleOf(ctx context.Context, projectID, userID int64) (*Role, error)
	// IsGlobalAdmin reports the global admin flag or tenancy.ErrUserNotFound.
	IsGlobalAdmin(ctx context.Context, userID int64) (bool, error)
}

// PermissionSource resolves fine-grained permissions of a role
type PermissionSource interface {
	RoleHasPermission(ctx context.Context, roleID int64, slug string) (bool, error)
}

// Evaluator answers "can user U perform action A on project P". Denials
// are returned as false; errors are reserved for malformed input such as
// an unknown project, user or action.
type Evaluator struct {
	directory   Directory
	permissions PermissionSource
	policy      atomic.Pointer[Policy]
	metrics     *observability.Metrics
}

// NewEvaluator creates an evaluator. A nil policy means DefaultPolicy.
func NewEvaluator(directory Directory, permissions PermissionSource, policy *Policy) *Evaluator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	e := &Evaluator{directory: directory, permissions: permissions}
	e.policy.Store(policy)
	return e
}

// WithMetrics attaches Prometheus metrics
func (e *Evaluator) WithMetrics(metrics *observability.Metrics) *Evaluator {
	e.metrics = metrics
	return e
}

// Policy returns the active policy
func (e *Evaluator) Policy() *Policy {
	return e.policy.Load()
}

// SetPolicy validates and swaps the active policy
func (e *Evaluator) SetPolicy(policy *Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	e.policy.Store(policy)
	return nil
}

// Check evaluates any action of the policy table
func (e *Evaluator) Check(ctx context.Context, action Action, userID, projectID int64) (bool, error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("rbac.action", string(action)),
		attribute.Int64("user.id", userID),
		attribute.Int64("project.id", projectID),
	)

	subject, err := e.subject(ctx, userID, projectID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	allowed, err := e.Policy().Permits(action, subject)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	span.SetAttributes(attribute.Bool("rbac.allowed", allowed))
	e.metrics.RecordPolicyDecision(string(action), allowed)
	return allowed, nil
}

// View is true for any user with access to the project
func (e *Evaluator) View(ctx context.Context, userID, projectID int64) (bool, error) {
	return e.Check(ctx, ActionView, userID, projectID)
}

// Update is true for the owning user and admin-level roles
func (e *Evaluator) Update(ctx context.Context, userID, projectID int64) (bool, error) {
	return e.Check(ctx, ActionUpdate, userID, projectID)
}

// Delete is true only for the owning user, regardless of role level
func (e *Evaluator) Delete(ctx context.Context, userID, projectID int64) (bool, error) {
	return e.Check(ctx, ActionDelete, userID, projectID)
}

// ManageMembers is true for the owning user, and admins when configured
func (e *Evaluator) ManageMembers(ctx context.Context, userID, projectID int64) (bool, error) {
	return e.Check(ctx, ActionManageMembers, userID, projectID)
}

// ManageModules is true for the owning user, and admins when configured
func (e *Evaluator) ManageModules(ctx context.Context, userID, projectID int64) (bool, error) {
	return e.Check(ctx, ActionManageModules, userID, projectID)
}

// HasPermission reports whether the user's current role includes the
// permission slug. A global admin holds every permission.
func (e *Evaluator) HasPermission(ctx context.Context, userID, projectID int64, slug string) (bool, error) {
	if err := ValidatePermissionSlug(slug); err != nil {
		return false, err
	}

	ctx, span := observability.Tracer().Start(ctx, "rbac.HasPermission")
	defer span.End()
	span.SetAttributes(attribute.String("rbac.permission", slug))

	subject, err := e.subject(ctx, userID, projectID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	allowed := subject.GlobalAdmin
	if !allowed && subject.Role != nil {
		allowed, err = e.permissions.RoleHasPermission(ctx, subject.Role.ID, slug)
		if err != nil {
			return false, fmt.Errorf("failed to check permission: %w", err)
		}
	}

	e.metrics.RecordPolicyDecision("permission:"+slug, allowed)
	return allowed, nil
}

// Authorize runs Check for an actor and converts a denial into a
// *tenancy.ForbiddenError for callers that short-circuit on errors.
func (e *Evaluator) Authorize(ctx context.Context, actor tenancy.Actor, action Action, projectID int64) error {
	if actor.IsSystem() {
		return &tenancy.ForbiddenError{ProjectID: projectID, Action: string(action)}
	}

	allowed, err := e.Check(ctx, action, actor.UserID, projectID)
	if err != nil {
		return err
	}
	if !allowed {
		return &tenancy.ForbiddenError{ProjectID: projectID, UserID: actor.UserID, Action: string(action)}
	}
	return nil
}

func (e *Evaluator) subject(ctx context.Context, userID, projectID int64) (Subject, error) {
	ownerID, err := e.directory.ProjectOwner(ctx, projectID)
	if err != nil {
		return Subject{}, err
	}

	admin, err := e.directory.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return Subject{}, err
	}

	subject := Subject{Owner: ownerID == userID, GlobalAdmin: admin}
	if admin {
		return subject, nil
	}

	subject.Role, err = e.directory.RoleOf(ctx, projectID, userID)
	if err != nil {
		return Subject{}, fmt.Errorf("failed to resolve role: %w", err)
	}
	return subject, nil
}
