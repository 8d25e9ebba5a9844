package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Environment names accepted by TENANTRY_ENV
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config holds all application configuration
type Config struct {
	Environment string

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Policy        PolicyConfig
	Modules       ModulesConfig
	Audit         AuditConfig
	Invitations   InvitationConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

// RedisConfig holds Redis settings. Redis is optional; an empty URL disables
// the distributed rate limiter.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// AuthConfig controls how actors are authenticated
type AuthConfig struct {
	OIDCIssuerURL string
	OIDCClientID  string
}

// PolicyConfig controls the role hierarchy policy table
type PolicyConfig struct {
	// File is an optional YAML policy; the built-in defaults apply when empty.
	File  string
	Watch bool

	AdminsManageMembers bool
	AdminsManageModules bool
}

// ModulesConfig points at the module catalog
type ModulesConfig struct {
	CatalogFile string
}

// AuditConfig controls audit archiving
type AuditConfig struct {
	ArchiveEnabled  bool
	ArchiveSchedule string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
}

// InvitationConfig controls invitation expiry
type InvitationConfig struct {
	TTL            time.Duration
	ExpirySchedule string
}

// RateLimitConfig controls the per-actor request limiter
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment:   strings.ToLower(getEnv("TENANTRY_ENV", EnvDevelopment)),
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Policy:        loadPolicyConfig(),
		Modules:       ModulesConfig{CatalogFile: getEnv("TENANTRY_MODULE_CATALOG", "")},
		Audit:         loadAuditConfig(),
		Invitations:   loadInvitationConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// StrictScoping reports whether tenant scoping violations should panic.
// Everything except production fails fast.
func (c *Config) StrictScoping() bool {
	return c.Environment != EnvProduction
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTRY_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTRY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTRY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTRY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTRY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTRY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTRY_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TENANTRY_DATABASE_URL", "postgres://localhost/tenantry?sslmode=disable"),
		MaxOpenConns:    getEnvInt("TENANTRY_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("TENANTRY_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTRY_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		RunMigrations:   getEnvBool("TENANTRY_RUN_MIGRATIONS", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("TENANTRY_REDIS_URL", ""),
		Password:   getEnv("TENANTRY_REDIS_PASSWORD", ""),
		DB:         getEnvInt("TENANTRY_REDIS_DB", 0),
		PoolSize:   getEnvInt("TENANTRY_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("TENANTRY_REDIS_MAX_RETRIES", 3),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuerURL: getEnv("TENANTRY_OIDC_ISSUER_URL", ""),
		OIDCClientID:  getEnv("TENANTRY_OIDC_CLIENT_ID", ""),
	}
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		File:                getEnv("TENANTRY_POLICY_FILE", ""),
		Watch:               getEnvBool("TENANTRY_POLICY_WATCH", false),
		AdminsManageMembers: getEnvBool("TENANTRY_ADMINS_MANAGE_MEMBERS", false),
		AdminsManageModules: getEnvBool("TENANTRY_ADMINS_MANAGE_MODULES", false),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		ArchiveEnabled:  getEnvBool("TENANTRY_AUDIT_ARCHIVE_ENABLED", false),
		ArchiveSchedule: getEnv("TENANTRY_AUDIT_ARCHIVE_SCHEDULE", "30 0 * * *"),
		S3Bucket:        getEnv("TENANTRY_AUDIT_S3_BUCKET", ""),
		S3Region:        getEnv("TENANTRY_AUDIT_S3_REGION", "us-east-1"),
		S3Endpoint:      getEnv("TENANTRY_AUDIT_S3_ENDPOINT", ""),
		S3AccessKey:     getEnv("TENANTRY_AUDIT_S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("TENANTRY_AUDIT_S3_SECRET_KEY", ""),
		S3UsePathStyle:  getEnvBool("TENANTRY_AUDIT_S3_USE_PATH_STYLE", false),
	}
}

func loadInvitationConfig() InvitationConfig {
	return InvitationConfig{
		TTL:            getEnvDuration("TENANTRY_INVITATION_TTL", 7*24*time.Hour),
		ExpirySchedule: getEnv("TENANTRY_INVITATION_EXPIRY_SCHEDULE", "0 * * * *"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("TENANTRY_RATE_LIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("TENANTRY_RATE_LIMIT_REQUESTS", 600),
		Window:            getEnvDuration("TENANTRY_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TENANTRY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTRY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTRY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTRY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTRY_OTEL_SERVICE_NAME", "tenantry"),
		OTelServiceVersion: getEnv("TENANTRY_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("TENANTRY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTRY_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("invalid environment: %s (must be development, test, or production)", c.Environment)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database max idle connections cannot exceed max open connections")
	}

	if (c.Auth.OIDCIssuerURL == "") != (c.Auth.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer URL and client ID must be set together")
	}

	if c.Policy.Watch && c.Policy.File == "" {
		return fmt.Errorf("policy watch requires a policy file")
	}

	if c.Audit.ArchiveEnabled && c.Audit.S3Bucket == "" {
		return fmt.Errorf("audit archive requires an S3 bucket")
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}

	if c.RateLimit.Enabled {
		if c.Redis.URL == "" {
			return fmt.Errorf("rate limiting requires a Redis URL")
		}
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
