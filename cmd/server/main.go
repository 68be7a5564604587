package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/sturgeon/internal"
	"github.com/DukeRupert/sturgeon/internal/auth"
	"github.com/DukeRupert/sturgeon/internal/billing"
	"github.com/DukeRupert/sturgeon/internal/csrf"
	"github.com/DukeRupert/sturgeon/internal/handler"
	"github.com/DukeRupert/sturgeon/internal/middleware"
	"github.com/DukeRupert/sturgeon/internal/repository"
	"github.com/DukeRupert/sturgeon/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	telemetry, err := internal.NewTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}

	// Initialize database connection
	db, err := sqlx.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.RunMigrations {
		if err := internal.RunMigrations(ctx, db.DB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	logger.Info("Database ready", "migrations", cfg.RunMigrations)

	rdb, err := internal.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info("Redis ready")
	} else {
		logger.Warn("REDIS_URL not set, subscription cache disabled and rate limits are per instance")
	}

	// Initialize repository
	repo := repository.New(db)

	// Initialize services
	subscriptionService := service.NewSubscriptionService(repo, rdb, cfg.SubscriptionTTL, logger)
	usageService := service.NewUsageService(repo, service.UsageConfig{
		Location:      cfg.UsageLocation,
		LookupTimeout: cfg.UsageLookupTimeout,
		WriteTimeout:  cfg.UsageWriteTimeout,
	}, logger)
	limiterService := service.NewLimiterService(subscriptionService, usageService, cfg.UsageLookupTimeout, logger)

	var billingService billing.Service
	if cfg.StripeWebhookSecret != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			Starter:      cfg.StripeStarterPriceIDs,
			Professional: cfg.StripeProfessionalPriceIDs,
			Enterprise:   cfg.StripeEnterprisePriceIDs,
		})
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, billing webhooks are ignored")
	}

	resolver := auth.NewResolver(auth.Config{
		URL:        cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		JWTSecret:  cfg.SupabaseJWTSecret,
		CookieName: cfg.SessionCookieName,
		Timeout:    cfg.IdentityTimeout,
	}, logger)
	if !resolver.Configured() {
		logger.Warn("identity provider not configured, route guard will fail open")
	}

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(resolver, subscriptionService, limiterService, usageService, logger)
	guard := middleware.NewGuard(resolver, logger)
	rateLimiter := middleware.NewRateLimiter(rdb, cfg.RateLimitRequests, cfg.RateLimitWindow, logger)
	defer rateLimiter.Stop()
	requestLogger := middleware.NewRequestLoggingMiddleware(logger)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction(), cfg.SupabaseURL)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, cfg.IsProduction(), logger)
	csrfProtector := csrf.NewProtector(cfg.SessionCookieName, cfg.IsProduction(), logger)

	// Initialize handlers
	deps := []handler.Dependency{{Name: "database", Ping: db.PingContext}}
	if rdb != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	healthHandler := handler.NewHealthHandler(deps...)
	webhookHandler := handler.NewWebhookHandler(billingService, subscriptionService, logger)
	entitlementHandler := handler.NewEntitlementHandler(subscriptionService, logger)
	usageHandler := handler.NewUsageHandler(usageService, limiterService, subscriptionService, cfg.UsageLocation, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService, logger)
	frontendHandler, err := handler.NewFrontendHandler(cfg.FrontendURL, logger)
	if err != nil {
		return fmt.Errorf("frontend proxy initialization failed: %w", err)
	}

	r := newRouter(routerDeps{
		Health:        healthHandler,
		Webhook:       webhookHandler,
		Entitlements:  entitlementHandler,
		Usage:         usageHandler,
		Subscription:  subscriptionHandler,
		Frontend:      frontendHandler,
		Auth:          authMw,
		Guard:         guard,
		RateLimiter:   rateLimiter,
		RequestLogger: requestLogger,
		Security:      securityHeaders,
		MetricsAuth:   metricsAuth,
		CSRF:          csrfProtector,
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	healthHandler.SetShutdown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
