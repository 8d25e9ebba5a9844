package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/middleware"
	"github.com/platinummonkey/tenantry/pkg/modules"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/projects"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/storage/sqlitetest"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

type apiFixture struct {
	t        *testing.T
	db       *sql.DB
	server   *Server
	projects *projects.PostgresService
	registry *modules.PostgresRegistry
	tokens   map[int64]string

	owner, alice, bob, root int64
}

// newAPIFixture builds a server over SQLite. The default policy applies
// unless one is given.
func newAPIFixture(t *testing.T, policy ...*rbac.Policy) *apiFixture {
	t.Helper()
	var evaluatorPolicy *rbac.Policy
	if len(policy) > 0 {
		evaluatorPolicy = policy[0]
	}

	db := sqlitetest.NewDB(t)
	sqlitetest.SeedRoles(t, db)
	for _, key := range []string{"pos", "inventory", "tasks"} {
		sqlitetest.CreateModule(t, db, key, true)
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	enforcer := tenancy.NewEnforcer(nil, logger, false)
	auditStore := audit.NewDBStore(db, enforcer)
	recorder := audit.NewRecorder(auditStore, logger, nil)

	svc := projects.NewPostgresService(db, enforcer, recorder)
	enforcer.SetMembershipChecker(svc)
	registry := modules.NewPostgresRegistry(db, enforcer, recorder)
	roles := rbac.NewRoleStore(db)
	tokenManager := auth.NewTokenManager(db)

	f := &apiFixture{
		t:        t,
		db:       db,
		projects: svc,
		registry: registry,
		tokens:   map[int64]string{},
		owner:    sqlitetest.CreateUser(t, db, "Olivia", "olivia@example.com", false),
		alice:    sqlitetest.CreateUser(t, db, "Alice", "alice@example.com", false),
		bob:      sqlitetest.CreateUser(t, db, "Bob", "bob@example.com", false),
		root:     sqlitetest.CreateUser(t, db, "Root", "root@example.com", true),
	}
	for _, id := range []int64{f.owner, f.alice, f.bob, f.root} {
		_, token, err := tokenManager.CreateToken(context.Background(), id, "test", nil)
		require.NoError(t, err)
		f.tokens[id] = token
	}

	f.server = NewServer(Dependencies{
		Projects:  svc,
		Modules:   registry,
		Evaluator: rbac.NewEvaluator(svc, roles, evaluatorPolicy),
		Roles:     roles,
		Audit:     auditStore,
		Enforcer:  enforcer,
		Auth:      middleware.NewAuthMiddleware(tokenManager, auth.NewUserStore(db), nil),
		Health:    observability.NewHealthChecker(db, nil),
		Logger:    logger,
	})
	return f
}

// do sends a request as userID; zero sends it anonymously
func (f *apiFixture) do(userID int64, method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+f.tokens[userID])
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createProject(name string) *projects.Project {
	f.t.Helper()
	rec := f.do(f.owner, http.MethodPost, "/projects", map[string]string{"name": name})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	var project projects.Project
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &project))
	return &project
}

func projectPath(id int64, suffix string) string {
	return "/projects/" + strconv.FormatInt(id, 10) + suffix
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestHealthRoutesNeedNoAuth(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusOK, f.do(0, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(0, http.MethodGet, "/ready", nil).Code)
}

func TestRequestsNeedAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(0, http.MethodGet, "/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBlockedUserIsRejected(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(f.alice, http.MethodGet, "/projects", nil).Code)

	_, err := f.db.Exec(`UPDATE users SET is_blocked = TRUE WHERE id = $1`, f.alice)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, f.do(f.alice, http.MethodGet, "/projects", nil).Code)

	var revoked int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM api_tokens WHERE user_id = $1 AND revoked_at IS NOT NULL`, f.alice).Scan(&revoked))
	assert.Equal(t, 1, revoked)
}

func TestTenantRoutesRequireMembership(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")

	rec := f.do(f.alice, http.MethodGet, projectPath(project.ID, ""), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_a_member", errorCode(t, rec))

	rec = f.do(f.root, http.MethodGet, projectPath(project.ID, ""), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "global admins see every project")

	rec = f.do(f.owner, http.MethodGet, projectPath(9999, ""), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRBACReferenceRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(f.alice, http.MethodGet, "/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	assert.Len(t, roles, 3)

	assert.Equal(t, http.StatusOK, f.do(f.alice, http.MethodGet, "/policy", nil).Code)
}

func TestModuleRouter(t *testing.T) {
	f := newAPIFixture(t)
	project := f.createProject("Acme")

	f.server.ModuleRouter("pos").HandleFunc("/sales", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("GET")

	rec := f.do(f.owner, http.MethodGet, projectPath(project.ID, "/pos/sales"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "module_not_enabled", errorCode(t, rec))

	require.Equal(t, http.StatusOK, f.do(f.owner, http.MethodPut, projectPath(project.ID, "/modules/pos"), nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(f.owner, http.MethodGet, projectPath(project.ID, "/pos/sales"), nil).Code)

	rec = f.do(f.alice, http.MethodGet, projectPath(project.ID, "/pos/sales"), nil)
	assert.Equal(t, "not_a_member", errorCode(t, rec), "membership is checked before the gate")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
