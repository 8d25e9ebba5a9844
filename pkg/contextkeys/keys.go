// Package contextkeys holds the request-scoped context keys shared across
// packages.
//
// The HTTP layer resolves the caller and the project once per request and
// stores them here. Handlers read them back and pass them explicitly into
// the core packages, which never look at the context for a tenant or an
// actor.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey holds the *auth.AuthContext set by middleware.AuthMiddleware.
	AuthKey Key = "auth_context"

	// ProjectKey holds the *projects.Project set by middleware.TenantMiddleware.
	ProjectKey Key = "project"

	// ProjectIDKey holds the same project's id as an int64, for packages
	// that cannot import pkg/projects.
	ProjectIDKey Key = "project_id"

	// RequestIDKey holds the request id assigned by httputil.RequestIDMiddleware.
	RequestIDKey Key = "request_id"

	// UserIDKey holds the authenticated user id, formatted as a string for logs.
	UserIDKey Key = "user_id"

	// LoggerKey holds the request *observability.Logger.
	LoggerKey Key = "logger"
)

func lookup[T any](ctx context.Context, key Key) T {
	v, _ := ctx.Value(key).(T)
	return v
}

// WithAuth stores the authentication context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithProject stores the resolved project
func WithProject(ctx context.Context, project interface{}) context.Context {
	return context.WithValue(ctx, ProjectKey, project)
}

// WithProjectID stores the resolved project id
func WithProjectID(ctx context.Context, projectID int64) context.Context {
	return context.WithValue(ctx, ProjectIDKey, projectID)
}

// GetProjectID returns the resolved project id, or 0 outside a project route
func GetProjectID(ctx context.Context) int64 { return lookup[int64](ctx, ProjectIDKey) }

// WithRequestID stores the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the request id, or ""
func GetRequestID(ctx context.Context) string { return lookup[string](ctx, RequestIDKey) }

// WithUserID stores the authenticated user id
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the authenticated user id, or ""
func GetUserID(ctx context.Context) string { return lookup[string](ctx, UserIDKey) }
