// Package config loads and validates configuration from environment variables.
//
// Server:
//
//	TENANTRY_ENV="development"            # development, test, production
//	TENANTRY_PORT="8080"
//	TENANTRY_HEALTH_PORT="9090"
//
// Storage:
//
//	TENANTRY_DATABASE_URL="postgres://localhost/tenantry?sslmode=disable"
//	TENANTRY_REDIS_URL="redis://localhost:6379/0"
//
// Authorization:
//
//	TENANTRY_POLICY_FILE="/etc/tenantry/policy.yaml"
//	TENANTRY_POLICY_WATCH="true"
//	TENANTRY_ADMINS_MANAGE_MEMBERS="false"
//	TENANTRY_ADMINS_MANAGE_MODULES="false"
//	TENANTRY_MODULE_CATALOG="/etc/tenantry/modules.yaml"
//
// Outside production, tenant scoping violations panic (see Config.StrictScoping).
package config
