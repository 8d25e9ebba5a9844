package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/projects"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// ProjectLookup loads projects by id
type ProjectLookup interface {
	GetProject(ctx context.Context, projectID int64) (*projects.Project, error)
}

// TenantMiddleware resolves the {project_id} route variable, confirms the
// project exists and that the authenticated actor belongs to it. Handlers
// below it read the project id from contextkeys and pass it on explicitly.
type TenantMiddleware struct {
	projects ProjectLookup
	enforcer *tenancy.Enforcer
}

// NewTenantMiddleware creates a new tenant middleware
func NewTenantMiddleware(projects ProjectLookup, enforcer *tenancy.Enforcer) *TenantMiddleware {
	return &TenantMiddleware{projects: projects, enforcer: enforcer}
}

// Handler must run after AuthMiddleware
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := mux.Vars(r)["project_id"]
		if !ok {
			httputil.WriteBadRequest(w, "project id required")
			return
		}
		projectID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || projectID <= 0 {
			httputil.WriteBadRequest(w, "invalid project id")
			return
		}

		authCtx := GetAuthContext(r)
		if authCtx == nil || authCtx.User == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		ctx := r.Context()
		project, err := m.projects.GetProject(ctx, projectID)
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}

		if err := m.enforcer.RequireMember(ctx, authCtx.Actor(r), projectID); err != nil {
			if !tenancy.IsNotAMember(err) {
				observability.FromContext(ctx).WithError(err).WithField("project_id", projectID).Error("membership check failed")
			}
			httputil.WriteDomainError(w, err)
			return
		}

		ctx = contextkeys.WithProjectID(ctx, projectID)
		ctx = contextkeys.WithProject(ctx, project)
		ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithField("project_id", projectID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetProject returns the project resolved by TenantMiddleware
func GetProject(r *http.Request) *projects.Project {
	project, _ := r.Context().Value(contextkeys.ProjectKey).(*projects.Project)
	return project
}

func userIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
