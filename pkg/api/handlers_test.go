package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/projects"
	"github.com/platinummonkey/tenantry/pkg/rbac"
)

func TestCreateAndListProjects(t *testing.T) {
	f := newAPIFixture(t)

	project := f.createProject("Acme Corp")
	assert.Equal(t, "acme-corp", project.Slug)
	assert.Equal(t, f.owner, project.OwnerID)

	rec := f.do(f.owner, http.MethodPost, "/projects", map[string]string{"name": "Acme Corp"})
	assert.Equal(t, http.StatusConflict, rec.Code, "slug taken")

	rec = f.do(f.owner, http.MethodPost, "/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(f.owner, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []projects.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, project.ID, list[0].ID)

	rec = f.do(f.alice, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdateAndArchiveProject(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")

	require.Equal(t, http.StatusCreated, f.do(f.owner, http.MethodPost, projectPath(project.ID, "/members"),
		map[string]interface{}{"user_id": f.alice, "role": "admin"}).Code)
	require.Equal(t, http.StatusCreated, f.do(f.owner, http.MethodPost, projectPath(project.ID, "/members"),
		map[string]interface{}{"user_id": f.bob, "role": "member"}).Code)

	rec := f.do(f.bob, http.MethodPatch, projectPath(project.ID, ""), map[string]string{"name": "Bobco"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))

	rec = f.do(f.alice, http.MethodPatch, projectPath(project.ID, ""), map[string]string{"name": "Acme Ltd"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated projects.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Acme Ltd", updated.Name)

	assert.Equal(t, http.StatusForbidden, f.do(f.alice, http.MethodDelete, projectPath(project.ID, ""), nil).Code, "delete is owner-only")

	rec = f.do(f.owner, http.MethodDelete, projectPath(project.ID, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, projects.StatusArchived, updated.Status)
}

func TestSetStatusIsForGlobalAdmins(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")

	body := map[string]string{"status": "suspended"}
	assert.Equal(t, http.StatusForbidden, f.do(f.owner, http.MethodPut, projectPath(project.ID, "/status"), body).Code)

	rec := f.do(f.root, http.MethodPut, projectPath(project.ID, "/status"), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(f.root, http.MethodPut, projectPath(project.ID, "/status"), map[string]string{"status": "gone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMembershipLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")
	members := projectPath(project.ID, "/members")

	rec := f.do(f.owner, http.MethodPost, members, map[string]interface{}{"user_id": f.alice, "role": "member"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(f.owner, http.MethodPost, members, map[string]interface{}{"user_id": f.alice, "role": "member"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_member", errorCode(t, rec))

	rec = f.do(f.owner, http.MethodPost, members, map[string]interface{}{"user_id": f.bob, "role": "wizard"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(f.alice, http.MethodPost, members, map[string]interface{}{"user_id": f.bob, "role": "member"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "members cannot manage members")

	rec = f.do(f.alice, http.MethodGet, members, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []projects.Membership
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/members/"+itoa(f.alice)), map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	var membership projects.Membership
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &membership))
	assert.Equal(t, "admin", membership.Role)

	rec = f.do(f.owner, http.MethodDelete, projectPath(project.ID, "/members/"+itoa(f.owner)), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "the owner cannot be removed")

	assert.Equal(t, http.StatusNoContent, f.do(f.owner, http.MethodDelete, projectPath(project.ID, "/members/"+itoa(f.alice)), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(f.owner, http.MethodDelete, projectPath(project.ID, "/members/"+itoa(f.alice)), nil).Code)

	rec = f.do(f.alice, http.MethodGet, projectPath(project.ID, ""), nil)
	assert.Equal(t, "not_a_member", errorCode(t, rec), "removal revokes access")
}

func TestInvitationFlow(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")

	rec := f.do(f.owner, http.MethodPost, projectPath(project.ID, "/invitations"), map[string]string{"email": "Bob@Example.com", "role": "member"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invite inviteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invite))
	require.NotEmpty(t, invite.Token)
	assert.Equal(t, "bob@example.com", invite.Invitation.Email)

	rec = f.do(f.bob, http.MethodGet, projectPath(project.ID, ""), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "invited is not yet a member")

	rec = f.do(f.alice, http.MethodPost, "/invitations/"+invite.Token+"/accept", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "invitation belongs to bob")

	rec = f.do(f.bob, http.MethodPost, "/invitations/"+invite.Token+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do(f.bob, http.MethodGet, projectPath(project.ID, ""), nil).Code)

	rec = f.do(f.bob, http.MethodPost, "/invitations/"+invite.Token+"/accept", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(f.owner, http.MethodPost, projectPath(project.ID, "/invitations"), map[string]string{"email": "nobody@example.com", "role": "member"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionProbe(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")
	require.Equal(t, http.StatusCreated, f.do(f.owner, http.MethodPost, projectPath(project.ID, "/members"),
		map[string]interface{}{"user_id": f.alice, "role": "member"}).Code)

	tests := []struct {
		name    string
		user    int64
		slug    string
		allowed bool
		status  int
	}{
		{name: "member can view", user: f.alice, slug: "products.view", allowed: true, status: http.StatusOK},
		{name: "member cannot delete", user: f.alice, slug: "products.delete", allowed: false, status: http.StatusOK},
		{name: "owner can delete", user: f.owner, slug: "products.delete", allowed: true, status: http.StatusOK},
		{name: "malformed slug", user: f.alice, slug: "products", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.user, http.MethodGet, projectPath(project.ID, "/permissions/"+tt.slug), nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var resp permissionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.allowed, resp.Allowed)
		})
	}
}

func TestAuditRoutes(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")
	require.Equal(t, http.StatusCreated, f.do(f.owner, http.MethodPost, projectPath(project.ID, "/members"),
		map[string]interface{}{"user_id": f.alice, "role": "member"}).Code)

	rec := f.do(f.alice, http.MethodGet, projectPath(project.ID, "/audit"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "view_audit needs admin")

	rec = f.do(f.owner, http.MethodGet, projectPath(project.ID, "/audit?entity_type=membership"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page audit.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	for _, entry := range page.Entries {
		require.NotNil(t, entry.ActorID)
		assert.Equal(t, f.owner, *entry.ActorID)
		assert.Equal(t, "membership", entry.TargetType)
	}

	rec = f.do(f.owner, http.MethodGet, projectPath(project.ID, "/audit/export?format=csv"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
}

func TestMembers_AdminCannotGrantOwner(t *testing.T) {
	f := newAPIFixture(t, rbac.DefaultPolicy().WithAdminsManaging(true, false))
	project := f.createProject("Acme")
	members := projectPath(project.ID, "/members")
	require.Equal(t, http.StatusCreated, f.do(f.owner, http.MethodPost, members,
		map[string]interface{}{"user_id": f.alice, "role": "admin"}).Code)

	rec := f.do(f.alice, http.MethodPut, projectPath(project.ID, "/members/"+itoa(f.alice)), map[string]string{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_request", errorCode(t, rec))

	rec = f.do(f.alice, http.MethodPost, members, map[string]interface{}{"user_id": f.bob, "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.do(f.alice, http.MethodPost, members, map[string]interface{}{"user_id": f.bob, "role": "admin"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	role, err := f.projects.RoleOf(context.Background(), project.ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role.Slug)
}
