package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ProbeFunc checks one dependency. Returning a DegradedError marks the
// dependency degraded instead of unhealthy.
type ProbeFunc func(ctx context.Context) error

// DegradedError reports a dependency that works but is under pressure
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

type probe struct {
	name     string
	required bool
	check    ProbeFunc
}

// HealthChecker runs the readiness probes of the service. A failing
// required probe makes the service unhealthy; a failing optional probe only
// degrades it.
type HealthChecker struct {
	probes  []probe
	version string
	timeout time.Duration
}

// NewHealthChecker registers the database probe (required) and the Redis
// probe (optional). Either dependency may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	h := &HealthChecker{version: "dev", timeout: 5 * time.Second}
	if db != nil {
		h.WithProbe("database", true, databaseProbe(db))
	}
	if redisClient != nil {
		h.WithProbe("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return h
}

// WithVersion sets the version reported by health responses
func (h *HealthChecker) WithVersion(version string) *HealthChecker {
	h.version = version
	return h
}

// WithProbe adds a named dependency probe
func (h *HealthChecker) WithProbe(name string, required bool, check ProbeFunc) *HealthChecker {
	h.probes = append(h.probes, probe{name: name, required: required, check: check})
	return h
}

// databaseProbe pings the pool and checks that the role table is seeded;
// without roles no request can be authorized.
func databaseProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		var roles int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&roles); err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		if roles == 0 {
			return errors.New("no roles seeded")
		}

		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return &DegradedError{Reason: "connection pool exhausted"}
		}
		return nil
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string  `json:"status"`
	Required  bool    `json:"required"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Check runs every probe in order
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	overall := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		dep := runProbe(ctx, p)
		overall.Dependencies[p.name] = dep

		switch {
		case dep.Status == StatusUnhealthy && p.required:
			overall.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
		}
	}
	return overall
}

func runProbe(ctx context.Context, p probe) DependencyStatus {
	start := time.Now()
	err := p.check(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Required:  p.required,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}

	var degraded *DegradedError
	switch {
	case err == nil:
	case errors.As(err, &degraded):
		dep.Status = StatusDegraded
		dep.Message = degraded.Reason
	default:
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Version: h.version})
}

// Readiness runs the probes; only an unhealthy result answers 503
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers /health and /ready
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/ready", checker.Readiness).Methods(http.MethodGet)
}
