package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/chatquota/internal"
	"github.com/DukeRupert/chatquota/internal/billing"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/handler"
	"github.com/DukeRupert/chatquota/internal/jobs"
	"github.com/DukeRupert/chatquota/internal/ledger"
	"github.com/DukeRupert/chatquota/internal/metrics"
	"github.com/DukeRupert/chatquota/internal/middleware"
	"github.com/DukeRupert/chatquota/internal/service"
	"github.com/DukeRupert/chatquota/internal/session"
	"github.com/DukeRupert/chatquota/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces cache ledger keys.
const redisKeyPrefix = "quota"

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	shutdownTracing, err := internal.NewTracerProvider(cfg.TracingEnabled, os.Stdout)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// ==========================================================================
	// Quota ledger
	// ==========================================================================

	durable := ledger.NewPostgresStore(db)

	var cache *ledger.RedisStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		// An unreachable cache at boot is not fatal: the ledger falls
		// through to the database on every call.
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis ping failed", "error", err)
		}
		cache = ledger.NewRedisStore(client, redisKeyPrefix)
	}

	var stores []ledger.Store
	for _, layer := range cfg.LedgerLayers {
		switch layer {
		case domain.LayerCache:
			stores = append(stores, cache)
		case domain.LayerDatabase:
			stores = append(stores, durable)
		}
	}
	quota := ledger.New(logger, stores)
	logger.Info("Ledger ready", "layers", quota.Layers())

	// ==========================================================================
	// Services
	// ==========================================================================

	subscriptions := billing.NewCachedReader(
		billing.NewPostgresReader(db),
		cfg.SubscriptionCacheSize,
		cfg.SubscriptionCacheTTL,
	)
	policy := service.NewTierPolicy(cfg.TierLimits)
	rateLimitService := service.NewRateLimitService(quota, subscriptions, policy, cfg.QuotaWindowHours, logger)
	migrationService := service.NewMigrationService(db, durable, cache, logger)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()

	resolver, err := session.NewResolver([]byte(cfg.SessionSecret))
	if err != nil {
		return fmt.Errorf("session resolver initialization failed: %w", err)
	}

	identityMw := middleware.NewIdentityMiddleware(resolver, []byte(cfg.AuthJWTSecret), logger, isSecure)
	quotaMw := middleware.NewQuotaMiddleware(rateLimitService, logger)
	throttle := middleware.NewThrottle(cfg.StatusRPS, cfg.StatusBurst, logger)
	defer throttle.Close()
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)

	// ==========================================================================
	// Handlers
	// ==========================================================================

	upstream, err := url.Parse(cfg.ChatUpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid CHAT_UPSTREAM_URL: %w", err)
	}

	healthHandler := handler.NewHealthHandler(db, logger)
	rateLimitHandler := handler.NewRateLimitHandler(rateLimitService, logger)
	chatHandler := handler.NewChatHandler(upstream, logger)
	migrationHandler := handler.NewMigrationHandler(migrationService, logger, isSecure)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Status polling is throttled per IP and never charges the quota
	rateLimitHandler.RegisterRoutes(mux, middleware.Stack(throttle.Limit, identityMw.WithIdentity))

	// Every chat message is charged before it is forwarded
	chatHandler.RegisterRoutes(mux, middleware.Stack(identityMw.WithIdentity, quotaMw.Enforce))

	// Login hook: moves guest data to the authenticated user
	migrationHandler.RegisterRoutes(mux, middleware.Stack(identityMw.WithIdentity, identityMw.RequireUser))

	// Global middleware, outermost first
	root := middleware.Stack(
		metrics.Middleware,
		loggingMw.Handler,
		securityMw.Handler,
	)(mux)

	// ==========================================================================
	// Background jobs
	// ==========================================================================

	var bg *worker.Worker
	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.CleanupSchedule = cfg.LedgerCleanup
		workerCfg.Retention = cfg.LedgerRetention
		workerCfg.JobTimeout = cfg.WorkerJobTimeout

		bg, err = worker.New(workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}

		expire := jobs.NewExpireBucketsHandler(durable, workerCfg.Retention, logger)
		if err := bg.Schedule(workerCfg.CleanupSchedule, expire); err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		bg.Start()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if bg != nil {
		bg.Stop()
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
