package api

import (
	"github.com/platinummonkey/tenantry/pkg/modules"
	"github.com/platinummonkey/tenantry/pkg/projects"
)

type setStatusRequest struct {
	Status projects.Status `json:"status"`
}

type assignMemberRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

type updateMemberRequest struct {
	Role string `json:"role"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// inviteResponse carries the plaintext token, which is only ever returned here
type inviteResponse struct {
	Invitation *projects.Invitation `json:"invitation"`
	Token      string               `json:"token"`
}

type enableModuleRequest struct {
	Config map[string]interface{} `json:"config,omitempty"`
	// Mode is "merge" (default) or "replace"
	Mode string `json:"mode,omitempty"`
}

type replaceModulesRequest struct {
	Keys []string `json:"keys"`
}

type projectModulesResponse struct {
	Enabled []string                 `json:"enabled"`
	Modules []*modules.ProjectModule `json:"modules"`
}

type permissionResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}
