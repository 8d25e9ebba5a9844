package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
)

func requestAs(userID, projectID int64) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := r.Context()
	if userID != 0 {
		ctx = contextkeys.WithAuth(ctx, &auth.AuthContext{User: &auth.User{ID: userID}})
	}
	if projectID != 0 {
		ctx = contextkeys.WithProjectID(ctx, projectID)
	}
	return r.WithContext(ctx)
}

func TestPolicyMiddleware_Require(t *testing.T) {
	pm := NewPolicyMiddleware(newTestEvaluator())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := pm.Require(ActionDelete)(ok)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantCode   string
	}{
		{"owner allowed", requestAs(ownerO, acme), http.StatusOK, ""},
		{"admin forbidden", requestAs(adminA, acme), http.StatusForbidden, httputil.CodeForbidden},
		{"unauthenticated", requestAs(0, acme), http.StatusUnauthorized, ""},
		{"no project", requestAs(ownerO, 0), http.StatusBadRequest, httputil.CodeInvalid},
		{"unknown project", requestAs(ownerO, 999), http.StatusNotFound, httputil.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, tt.req)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantCode != "" {
				var resp httputil.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Code)
			}
		})
	}
}

func TestPolicyMiddleware_RequirePermission(t *testing.T) {
	pm := NewPolicyMiddleware(newTestEvaluator())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	w := httptest.NewRecorder()
	pm.RequirePermission("products.create")(ok).ServeHTTP(w, requestAs(adminA, acme))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	pm.RequirePermission("products.create")(ok).ServeHTTP(w, requestAs(memberB, acme))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	pm.RequirePermission("bad slug")(ok).ServeHTTP(w, requestAs(memberB, acme))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
