package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/middleware"
	"github.com/platinummonkey/tenantry/pkg/modules"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/projects"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Dependencies are the services the API is built from. RateLimiter, Health
// and Metrics are optional.
type Dependencies struct {
	Projects    projects.Service
	Modules     modules.Registry
	Evaluator   *rbac.Evaluator
	Roles       *rbac.RoleStore
	Audit       audit.Store
	Enforcer    *tenancy.Enforcer
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Logger      *observability.Logger
}

// Server represents our API server
type Server struct {
	deps     Dependencies
	router   *mux.Router
	projects *mux.Router
	policy   *rbac.PolicyMiddleware
	gate     *modules.Gate
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		policy: rbac.NewPolicyMiddleware(deps.Evaluator),
		gate:   modules.NewGate(deps.Modules),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes. Tenant routes run through
// authentication, then tenant resolution and membership, then the policy
// check of the route, then the module gate where one applies.
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware(s.deps.Logger), httputil.RecoveryMiddleware, httputil.LoggingMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	if s.deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, s.deps.Health)
	}

	authed := s.router.NewRoute().Subrouter()
	authed.Use(s.deps.Auth.Handler)
	if s.deps.RateLimiter != nil {
		authed.Use(s.deps.RateLimiter.Middleware)
	}

	projectHandlers := &ProjectHandlers{projects: s.deps.Projects, evaluator: s.deps.Evaluator}
	moduleHandlers := &ModuleHandlers{registry: s.deps.Modules}

	authed.HandleFunc("/projects", projectHandlers.CreateProject).Methods("POST")
	authed.HandleFunc("/projects", projectHandlers.ListProjects).Methods("GET")
	authed.HandleFunc("/invitations/{token}/accept", projectHandlers.AcceptInvitation).Methods("POST")
	authed.HandleFunc("/modules", moduleHandlers.ListAvailable).Methods("GET")
	rbac.NewHandlers(s.deps.Roles, s.deps.Evaluator).RegisterRoutes(authed)

	admin := authed.NewRoute().Subrouter()
	admin.Use(middleware.RequireGlobalAdmin)
	admin.HandleFunc("/projects/{project_id:[0-9]+}/status", projectHandlers.SetStatus).Methods("PUT")

	s.projects = authed.PathPrefix("/projects/{project_id:[0-9]+}").Subrouter()
	s.projects.Use(middleware.NewTenantMiddleware(s.deps.Projects, s.deps.Enforcer).Handler)
	p := s.projects

	p.Handle("", s.guard(rbac.ActionView, projectHandlers.GetProject)).Methods("GET")
	p.Handle("", s.guard(rbac.ActionUpdate, projectHandlers.UpdateProject)).Methods("PATCH")
	p.Handle("", s.guard(rbac.ActionDelete, projectHandlers.ArchiveProject)).Methods("DELETE")

	p.Handle("/members", s.guard(rbac.ActionView, projectHandlers.ListMembers)).Methods("GET")
	p.Handle("/members", s.guard(rbac.ActionManageMembers, projectHandlers.AssignMember)).Methods("POST")
	p.Handle("/members/{user_id:[0-9]+}", s.guard(rbac.ActionManageMembers, projectHandlers.UpdateMember)).Methods("PUT")
	p.Handle("/members/{user_id:[0-9]+}", s.guard(rbac.ActionManageMembers, projectHandlers.RemoveMember)).Methods("DELETE")
	p.Handle("/invitations", s.guard(rbac.ActionManageMembers, projectHandlers.Invite)).Methods("POST")

	p.Handle("/modules", s.guard(rbac.ActionView, moduleHandlers.ListProjectModules)).Methods("GET")
	p.Handle("/modules", s.guard(rbac.ActionManageModules, moduleHandlers.ReplaceEnabled)).Methods("PUT")
	p.Handle("/modules/{key}", s.guard(rbac.ActionManageModules, moduleHandlers.Enable)).Methods("PUT")
	p.Handle("/modules/{key}", s.guard(rbac.ActionManageModules, moduleHandlers.Disable)).Methods("DELETE")
	p.Handle("/modules/{key}/config", s.guard(rbac.ActionView, moduleHandlers.GetConfig)).Methods("GET")

	p.HandleFunc("/permissions/{slug}", projectHandlers.CheckPermission).Methods("GET")

	auditRoutes := p.NewRoute().Subrouter()
	auditRoutes.Use(s.policy.Require(rbac.ActionViewAudit))
	audit.NewHandlers(s.deps.Audit).RegisterRoutes(auditRoutes)
}

func (s *Server) guard(action rbac.Action, handler http.HandlerFunc) http.Handler {
	return s.policy.Require(action)(handler)
}

// ModuleRouter returns a router for the routes of one module, mounted at
// /projects/{project_id}/{key}. Its routes require membership, the view
// policy and the module to be enabled for the project.
func (s *Server) ModuleRouter(key string) *mux.Router {
	router := s.projects.PathPrefix("/" + key).Subrouter()
	router.Use(s.policy.Require(rbac.ActionView), s.gate.Require(key))
	return router
}

// Router exposes the underlying router, mainly for otelhttp wrapping
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
