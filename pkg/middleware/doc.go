// Package middleware provides the request-layer middleware that turns an
// HTTP request into an explicit actor and tenant.
//
// # Middleware Components
//
// AuthMiddleware: bearer API tokens (tnt_ prefix) or OIDC ID tokens
//
//	router.Use(middleware.NewAuthMiddleware(tokenManager, userStore, verifier).Handler)
//	// Blocked users get their tokens revoked and a 401
//
// TenantMiddleware: resolves {project_id} and requires membership
//
//	projectRouter.Use(middleware.NewTenantMiddleware(projectService, enforcer).Handler)
//
// RateLimiter: Redis-backed fixed window per user, or per address for
// anonymous requests
//
//	limiter := middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
//		RequestsPerWindow: 600,
//		WindowDuration:    time.Minute,
//	}, "tenantry")
//	router.Use(limiter.Middleware)
//
// Policy checks and module gates live next to their rules in pkg/rbac and
// pkg/modules.
package middleware
