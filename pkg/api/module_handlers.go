package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/modules"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// ModuleHandlers handles module catalog and enablement requests
type ModuleHandlers struct {
	registry modules.Registry
}

// ListAvailable handles GET /modules
func (h *ModuleHandlers) ListAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := h.registry.ListAvailable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if available == nil {
		available = []*modules.Module{}
	}
	httputil.WriteSuccess(w, available)
}

// ListProjectModules handles GET /projects/{project_id}/modules
func (h *ModuleHandlers) ListProjectModules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := contextkeys.GetProjectID(ctx)

	enabled, err := h.registry.EnabledKeys(ctx, projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.registry.ListProjectModules(ctx, projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*modules.ProjectModule{}
	}
	httputil.WriteSuccess(w, projectModulesResponse{Enabled: enabled, Modules: rows})
}

// ReplaceEnabled handles PUT /projects/{project_id}/modules
func (h *ModuleHandlers) ReplaceEnabled(w http.ResponseWriter, r *http.Request) {
	var req replaceModulesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	keys, err := h.registry.ReplaceEnabled(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), req.Keys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string][]string{"enabled": keys})
}

// Enable handles PUT /projects/{project_id}/modules/{key}. The body is
// optional.
func (h *ModuleHandlers) Enable(w http.ResponseWriter, r *http.Request) {
	var req enableModuleRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	mode, err := parseConfigMode(req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	pm, err := h.registry.Enable(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), mux.Vars(r)["key"], req.Config, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pm)
}

// Disable handles DELETE /projects/{project_id}/modules/{key}
func (h *ModuleHandlers) Disable(w http.ResponseWriter, r *http.Request) {
	if _, err := h.registry.Disable(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), mux.Vars(r)["key"]); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetConfig handles GET /projects/{project_id}/modules/{key}/config
func (h *ModuleHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	config, err := h.registry.GetConfig(r.Context(), contextkeys.GetProjectID(r.Context()), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, config)
}

func parseConfigMode(mode string) (modules.ConfigMode, error) {
	switch mode {
	case "", "merge":
		return modules.ConfigMerge, nil
	case "replace":
		return modules.ConfigReplace, nil
	default:
		return modules.ConfigMerge, fmt.Errorf("%w: unknown config mode %q", tenancy.ErrInvalidInput, mode)
	}
}
