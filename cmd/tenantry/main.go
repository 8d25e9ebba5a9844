package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantry/pkg/api"
	"github.com/platinummonkey/tenantry/pkg/async"
	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/cli"
	"github.com/platinummonkey/tenantry/pkg/config"
	"github.com/platinummonkey/tenantry/pkg/middleware"
	"github.com/platinummonkey/tenantry/pkg/modules"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/projects"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/storage/postgres"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

const (
	jobTimeout     = 10 * time.Minute
	poolStatsEvery = 15 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("tenantry stopped with error")
		os.Exit(1)
	}
	logger.Info("tenantry stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("shutdown finished with errors")
		}
	}()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		shutdown.Register("otel", providers.Shutdown)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	logger.Info("connected to PostgreSQL")

	if cfg.Database.RunMigrations {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	}

	loadPolicy := func() (*rbac.Policy, error) {
		policy := rbac.DefaultPolicy()
		if cfg.Policy.File != "" {
			loaded, err := rbac.LoadPolicy(cfg.Policy.File)
			if err != nil {
				return nil, err
			}
			policy = loaded
		}
		return policy.WithAdminsManaging(cfg.Policy.AdminsManageMembers, cfg.Policy.AdminsManageModules), nil
	}
	policy, err := loadPolicy()
	if err != nil {
		return err
	}

	catalog := modules.DefaultCatalog()
	if cfg.Modules.CatalogFile != "" {
		if catalog, err = modules.LoadCatalog(cfg.Modules.CatalogFile); err != nil {
			return err
		}
	}
	if err := cli.Seed(ctx, db, policy, catalog); err != nil {
		return err
	}

	enforcer := tenancy.NewEnforcer(nil, logger, cfg.StrictScoping()).WithMetrics(metrics)
	auditStore := audit.NewDBStore(db, enforcer)
	recorder := audit.NewRecorder(auditStore, logger, metrics)

	projectService := projects.NewPostgresService(db, enforcer, recorder).
		WithMetrics(metrics).
		WithInvitationTTL(cfg.Invitations.TTL)
	enforcer.SetMembershipChecker(projectService)

	roles := rbac.NewRoleStore(db)
	evaluator := rbac.NewEvaluator(projectService, roles, policy).WithMetrics(metrics)
	moduleRegistry := modules.NewPostgresRegistry(db, enforcer, recorder).WithMetrics(metrics)

	users := auth.NewUserStore(db)
	var idTokens middleware.IDTokenAuthenticator
	if cfg.Auth.OIDCIssuerURL != "" {
		verifier, err := auth.NewIDTokenVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, users)
		if err != nil {
			return err
		}
		idTokens = verifier
		logger.Infof("OIDC authentication enabled for issuer %s", cfg.Auth.OIDCIssuerURL)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
		}, "tenantry").WithMetrics(metrics)
	}

	health := observability.NewHealthChecker(db, redisClient).WithVersion(cfg.Observability.OTelServiceVersion)

	server := api.NewServer(api.Dependencies{
		Projects:    projectService,
		Modules:     moduleRegistry,
		Evaluator:   evaluator,
		Roles:       roles,
		Audit:       auditStore,
		Enforcer:    enforcer,
		Auth:        middleware.NewAuthMiddleware(auth.NewTokenManager(db), users, idTokens),
		RateLimiter: limiter,
		Health:      health,
		Metrics:     metrics,
		Logger:      logger,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "tenantry"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsRouter := mux.NewRouter()
	opsRouter.Handle("/metrics", observability.MetricsHandler(registry))
	observability.RegisterHealthRoutes(opsRouter, health)
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := newScheduler(ctx, cfg, logger, projectService, auditStore)
	if err != nil {
		return err
	}
	scheduler.Start()
	shutdown.Register("cron", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if metrics != nil {
		postgres.ReportPoolStats(ctx, db, metrics, logger, poolStatsEvery)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Infof("metrics and health server listening on %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	if cfg.Policy.Watch {
		watcher := rbac.NewPolicyWatcher(cfg.Policy.File, loadPolicy, evaluator, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), opsServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

// newScheduler registers the invitation expiry job and, when enabled, the
// daily audit archive of the previous UTC day.
func newScheduler(ctx context.Context, cfg *config.Config, logger *observability.Logger, projectService *projects.PostgresService, auditStore *audit.DBStore) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(cfg.Invitations.ExpirySchedule, func() {
		async.SafeGo(ctx, logger, jobTimeout, "invitation-expiry", func(ctx context.Context) error {
			removed, err := projectService.ExpireInvitations(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Infof("expired %d invitations", removed)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule invitation expiry: %w", err)
	}

	if !cfg.Audit.ArchiveEnabled {
		return c, nil
	}

	client, err := postgres.NewS3Client(ctx, postgres.ObjectStoreConfig{
		Bucket:       cfg.Audit.S3Bucket,
		Region:       cfg.Audit.S3Region,
		Endpoint:     cfg.Audit.S3Endpoint,
		AccessKey:    cfg.Audit.S3AccessKey,
		SecretKey:    cfg.Audit.S3SecretKey,
		UsePathStyle: cfg.Audit.S3UsePathStyle,
		CreateBucket: cfg.Environment != config.EnvProduction,
	})
	if err != nil {
		return nil, err
	}
	archiver := audit.NewArchiver(auditStore, client, cfg.Audit.S3Bucket, "", logger)

	_, err = c.AddFunc(cfg.Audit.ArchiveSchedule, func() {
		async.SafeGo(ctx, logger, jobTimeout, "audit-archive", func(ctx context.Context) error {
			_, err := archiver.ArchiveDay(ctx, time.Now().UTC().AddDate(0, 0, -1))
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule audit archive: %w", err)
	}
	return c, nil
}
