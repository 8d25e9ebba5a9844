// Package audit records an append-only, per-project trail of administrative
// changes.
//
// Operations that mutate projects, memberships or module enablement build
// an Event after their transaction commits and hand it to a Recorder:
//
//	recorder.Record(ctx, audit.Event{
//		ProjectID:  project.ID,
//		Actor:      actor,
//		Action:     audit.ActionUpdated,
//		EntityType: "project",
//		EntityID:   strconv.FormatInt(project.ID, 10),
//		Before:     before,
//		After:      project,
//		Area:       audit.AreaProjects,
//	})
//
// Record never returns an error. A failed write is logged and counted in
// tenantry_audit_write_failures_total, and the business change stands.
//
// Entries are never updated or deleted; the audit_log table carries
// triggers that reject both. DBStore reads are always scoped to one
// project. The Archiver copies a day of entries to S3 as NDJSON.
package audit
