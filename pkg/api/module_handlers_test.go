package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/modules"
)

func TestListAvailableModules(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(f.alice, http.MethodGet, "/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var available []modules.Module
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &available))
	assert.Len(t, available, 3)
}

// Acme enables pos, its owner reads the config back, a plain member cannot
// toggle modules and the change lands in the audit log.
func TestModuleLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")
	require.Equal(t, http.StatusCreated, f.do(f.owner, http.MethodPost, projectPath(project.ID, "/members"),
		map[string]interface{}{"user_id": f.alice, "role": "admin"}).Code)

	rec := f.do(f.alice, http.MethodPut, projectPath(project.ID, "/modules/pos"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "manage_modules is owner-only by default")
	assert.Equal(t, "forbidden", errorCode(t, rec))

	rec = f.do(f.alice, http.MethodGet, projectPath(project.ID, "/modules/pos/config"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "module_not_enabled", errorCode(t, rec))

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules/pos"),
		map[string]interface{}{"config": map[string]interface{}{"currency": "EUR", "tills": 2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules/pos"),
		map[string]interface{}{"config": map[string]interface{}{"tills": 3}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(f.alice, http.MethodGet, projectPath(project.ID, "/modules/pos/config"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"currency":"EUR","tills":3}`, rec.Body.String())

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules/pos"), map[string]interface{}{"mode": "overwrite"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules/unknown"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(f.owner, http.MethodDelete, projectPath(project.ID, "/modules/pos"), nil).Code)

	rec = f.do(f.alice, http.MethodGet, projectPath(project.ID, "/modules/pos/config"), nil)
	assert.Equal(t, "module_not_enabled", errorCode(t, rec))

	rec = f.do(f.owner, http.MethodGet, projectPath(project.ID, "/audit?action="+audit.ActionEnabledModule), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page audit.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 2, page.Count)
	for _, entry := range page.Entries {
		assert.Equal(t, project.ID, entry.ProjectID)
		assert.Equal(t, "project_module", entry.TargetType)
		assert.Equal(t, "pos", entry.TargetID)
		assert.Equal(t, audit.AreaModules, entry.Area)
	}
}

func TestReplaceEnabledModules(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")

	rec := f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules"), map[string]interface{}{"keys": []string{"tasks", "pos"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"enabled":["pos","tasks"]}`, rec.Body.String())

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules"), map[string]interface{}{"keys": []string{"inventory"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(f.owner, http.MethodGet, projectPath(project.ID, "/modules"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp projectModulesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"inventory"}, resp.Enabled)
	assert.Len(t, resp.Modules, 3)

	rec = f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules"), map[string]interface{}{"keys": []string{"nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
