// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
// Logger is a thin wrapper around logrus with JSON output:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("project_id", id).Info("project created")
//
// The logger is also the operational channel for failures that must not
// fail a request, such as lost audit entries and scoping violations.
//
// # Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordPolicyDecision("delete", false)
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric providers. Code creates spans
// with observability.Tracer().
package observability
