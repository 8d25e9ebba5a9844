package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/middleware"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/projects"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// ProjectHandlers handles project, membership and invitation requests
type ProjectHandlers struct {
	projects  projects.Service
	evaluator *rbac.Evaluator
}

// actor returns the explicit actor of an authenticated request
func actor(r *http.Request) tenancy.Actor {
	return middleware.GetAuthContext(r).Actor(r)
}

// CreateProject handles POST /projects. The caller becomes the owner.
func (h *ProjectHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projects.CreateProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	project, err := h.projects.CreateProject(r.Context(), actor(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, project)
}

// ListProjects handles GET /projects
func (h *ProjectHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.projects.ListProjects(r.Context(), actor(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*projects.Project{}
	}
	httputil.WriteSuccess(w, list)
}

// GetProject handles GET /projects/{project_id}
func (h *ProjectHandlers) GetProject(w http.ResponseWriter, r *http.Request) {
	if project := middleware.GetProject(r); project != nil {
		httputil.WriteSuccess(w, project)
		return
	}

	project, err := h.projects.GetProject(r.Context(), contextkeys.GetProjectID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// UpdateProject handles PATCH /projects/{project_id}
func (h *ProjectHandlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projects.UpdateProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := h.projects.UpdateProject(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// ArchiveProject handles DELETE /projects/{project_id}. Projects are
// archived, never removed.
func (h *ProjectHandlers) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.SetStatus(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), projects.StatusArchived)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// SetStatus handles PUT /projects/{project_id}/status for global admins
func (h *ProjectHandlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}

	var req setStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := h.projects.SetStatus(r.Context(), projectID, actor(r), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// ListMembers handles GET /projects/{project_id}/members
func (h *ProjectHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.projects.ListMembers(r.Context(), contextkeys.GetProjectID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []*projects.Membership{}
	}
	httputil.WriteSuccess(w, members)
}

// AssignMember handles POST /projects/{project_id}/members
func (h *ProjectHandlers) AssignMember(w http.ResponseWriter, r *http.Request) {
	var req assignMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") || !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}

	membership, err := h.projects.Assign(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), req.UserID, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, membership)
}

// UpdateMember handles PUT /projects/{project_id}/members/{user_id}
func (h *ProjectHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	var req updateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}

	membership, err := h.projects.UpdateRole(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), userID, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}

// RemoveMember handles DELETE /projects/{project_id}/members/{user_id}
func (h *ProjectHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	removed, err := h.projects.Remove(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		httputil.WriteDomainError(w, projects.ErrMembershipNotFound)
		return
	}
	httputil.WriteNoContent(w)
}

// Invite handles POST /projects/{project_id}/invitations
func (h *ProjectHandlers) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}

	invitation, token, err := h.projects.Invite(r.Context(), contextkeys.GetProjectID(r.Context()), actor(r), req.Email, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, inviteResponse{Invitation: invitation, Token: token})
}

// AcceptInvitation handles POST /invitations/{token}/accept
func (h *ProjectHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	membership, err := h.projects.AcceptInvitation(r.Context(), token, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}

// CheckPermission handles GET /projects/{project_id}/permissions/{slug}
func (h *ProjectHandlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	allowed, err := h.evaluator.HasPermission(r.Context(), actor(r).UserID, contextkeys.GetProjectID(r.Context()), slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissionResponse{Permission: slug, Allowed: allowed})
}

// writeError logs server-side failures before mapping err to a response
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.DomainStatus(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteDomainError(w, err)
}
