package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/httputil"
)

// Handlers exposes the role and permission reference data
type Handlers struct {
	store     *RoleStore
	evaluator *Evaluator
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *RoleStore, evaluator *Evaluator) *Handlers {
	return &Handlers{store: store, evaluator: evaluator}
}

// RegisterRoutes registers the read-only RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles/{role_id}", h.GetRole).Methods("GET")
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/policy", h.GetPolicy).Methods("GET")
}

// ListRoles lists roles with their permissions
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if role.Permissions, err = h.store.PermissionsForRole(r.Context(), role.ID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// ListPermissions lists every permission
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if permissions == nil {
		permissions = []Permission{}
	}
	httputil.WriteSuccess(w, permissions)
}

// GetPolicy returns the active policy table
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.evaluator.Policy())
}
