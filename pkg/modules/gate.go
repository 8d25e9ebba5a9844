package modules

import (
	"net/http"

	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Gate guards module routes. It runs after the tenant middleware, which
// resolves the project id.
type Gate struct {
	registry Registry
}

// NewGate creates a new gate
func NewGate(registry Registry) *Gate {
	return &Gate{registry: registry}
}

// Require rejects requests for projects that have not enabled key
func (g *Gate) Require(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			projectID := contextkeys.GetProjectID(r.Context())
			if projectID == 0 {
				httputil.WriteBadRequest(w, "project id required")
				return
			}

			if err := g.registry.EnsureEnabled(r.Context(), projectID, key); err != nil {
				observability.FromContext(r.Context()).WithField("module", key).WithError(err).Debug("module gate rejected request")
				httputil.WriteDomainError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
