package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// The Record* helpers are safe to call on a nil *Metrics so that components
// can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	PolicyDecisionsTotal   *prometheus.CounterVec
	ModuleGateDenialsTotal *prometheus.CounterVec
	ScopingViolationsTotal *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter

	// Audit metrics
	AuditEntriesTotal       *prometheus.CounterVec
	AuditWriteFailuresTotal *prometheus.CounterVec

	// Membership metrics
	MembershipChangesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen prometheus.Gauge
	DBConnectionsIdle prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PolicyDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_policy_decisions_total",
				Help: "Total number of policy evaluations by action and result",
			},
			[]string{"action", "result"},
		),
		ModuleGateDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_module_gate_denials_total",
				Help: "Total number of requests blocked because a module is disabled",
			},
			[]string{"module"},
		),
		ScopingViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_scoping_violations_total",
				Help: "Total number of tenant scoping violations",
			},
			[]string{"entity_type"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantry_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_audit_entries_total",
				Help: "Total number of audit entries written",
			},
			[]string{"area", "action"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_audit_write_failures_total",
				Help: "Total number of audit entries that could not be written",
			},
			[]string{"area"},
		),
		MembershipChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_membership_changes_total",
				Help: "Total number of membership changes",
			},
			[]string{"change"},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantry_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantry_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PolicyDecisionsTotal,
		m.ModuleGateDenialsTotal,
		m.ScopingViolationsTotal,
		m.RateLimitedTotal,
		m.AuditEntriesTotal,
		m.AuditWriteFailuresTotal,
		m.MembershipChangesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordPolicyDecision counts one policy evaluation
func (m *Metrics) RecordPolicyDecision(action string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PolicyDecisionsTotal.WithLabelValues(action, result).Inc()
}

// RecordGateDenial counts a request blocked by the module gate
func (m *Metrics) RecordGateDenial(module string) {
	if m == nil {
		return
	}
	m.ModuleGateDenialsTotal.WithLabelValues(module).Inc()
}

// RecordScopingViolation counts a tenant scoping violation
func (m *Metrics) RecordScopingViolation(entityType string) {
	if m == nil {
		return
	}
	m.ScopingViolationsTotal.WithLabelValues(entityType).Inc()
}

// RecordRateLimited counts a rate-limited request
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordAuditEntry counts a written audit entry
func (m *Metrics) RecordAuditEntry(area, action string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(area, action).Inc()
}

// RecordAuditFailure counts an audit entry that was lost
func (m *Metrics) RecordAuditFailure(area string) {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.WithLabelValues(area).Inc()
}

// RecordMembershipChange counts an assign, role change or removal
func (m *Metrics) RecordMembershipChange(change string) {
	if m == nil {
		return
	}
	m.MembershipChangesTotal.WithLabelValues(change).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(open, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(open))
	m.DBConnectionsIdle.Set(float64(idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template so project ids do not explode the
// label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// MetricsHandler returns the /metrics handler for a registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
