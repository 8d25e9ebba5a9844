// Package httputil provides HTTP helpers shared by the API handlers.
//
// Responses are JSON. Error bodies have the shape
//
//	{"error": "...", "code": "...", "details": {...}}
//
// WriteDomainError maps the tenancy error types to status codes:
// NotAMember and Forbidden become 403 with the codes not_a_member and
// forbidden, ModuleNotEnabled becomes 403 module_not_enabled with the
// module key in details, AlreadyMember becomes 409, the not-found
// sentinels become 404 and anything else a generic 500.
//
// Request helpers parse JSON bodies and mux path variables. The
// middleware in this package assigns request ids, logs requests through
// the context logger and recovers panics.
package httputil
