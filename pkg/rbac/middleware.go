package rbac

import (
	"net/http"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// PolicyMiddleware guards routes with policy checks. It runs after the
// tenant middleware, which resolves the project id.
type PolicyMiddleware struct {
	evaluator *Evaluator
}

// NewPolicyMiddleware creates a new policy middleware
func NewPolicyMiddleware(evaluator *Evaluator) *PolicyMiddleware {
	return &PolicyMiddleware{evaluator: evaluator}
}

// Require rejects requests whose user fails the action check
func (pm *PolicyMiddleware) Require(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, projectID, ok := requestSubject(w, r)
			if !ok {
				return
			}

			allowed, err := pm.evaluator.Check(r.Context(), action, userID, projectID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("policy check failed")
				httputil.WriteDomainError(w, err)
				return
			}
			if !allowed {
				httputil.WriteDomainError(w, &tenancy.ForbiddenError{ProjectID: projectID, UserID: userID, Action: string(action)})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose role lacks a permission slug
func (pm *PolicyMiddleware) RequirePermission(slug string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, projectID, ok := requestSubject(w, r)
			if !ok {
				return
			}

			allowed, err := pm.evaluator.HasPermission(r.Context(), userID, projectID, slug)
			if err != nil {
				httputil.WriteDomainError(w, err)
				return
			}
			if !allowed {
				httputil.WriteDomainError(w, &tenancy.ForbiddenError{ProjectID: projectID, UserID: userID, Action: slug})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestSubject(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, 0, false
	}

	projectID := contextkeys.GetProjectID(r.Context())
	if projectID == 0 {
		httputil.WriteBadRequest(w, "project context required")
		return 0, 0, false
	}
	return authCtx.User.ID, projectID, true
}
