// Package main is the entry point for the Tableline gatekeeper API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the usage
// gatekeeper, the billing and voice webhook handlers, and the authenticated
// usage query surface onto the core chassis, then serves HTTP with graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"tableline/internal/alerts"
	"tableline/internal/api/handlers"
	"tableline/internal/billing"
	"tableline/internal/config"
	"tableline/internal/core"
	"tableline/internal/db"
	"tableline/internal/external"
	"tableline/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("tableline gatekeeper starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newDBPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Repositories.
	orgRepo := db.NewOrgRepository(pool)
	alertRepo := db.NewAlertRepository(pool)
	callRepo := db.NewCallRepository(pool)
	restaurantRepo := db.NewRestaurantRepository(pool)
	apiKeyRepo := db.NewAPIKeyRepository(pool)

	// Domain services.
	registry := billing.NewStaticPlanRegistry()
	gatekeeper := billing.NewGatekeeper(orgRepo, registry, logger)
	publisher := queue.NewAlertPublisher(sqsClient, cfg.AWS.AlertQueue, logger)
	dispatcher := alerts.NewDispatcher(alertRepo, publisher, logger)

	// Handlers.
	stripeHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		registry,
		orgRepo,
		dispatcher,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	voiceHandler := handlers.NewVoiceWebhookHandler(
		restaurantRepo,
		callRepo,
		gatekeeper,
		orgRepo,
		dispatcher,
		cfg.Voice.WebhookSecret.Unmask(),
		logger,
	)
	usageHandler := handlers.NewUsageHandler(gatekeeper, registry, logger)
	alertsHandler := handlers.NewAlertsHandler(alertRepo, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	srv.Keys = apiKeyRepo
	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}
	srv.PublicRoutes = []core.RouteRegistrar{
		stripeHandler.RegisterRoutes,
		voiceHandler.RegisterRoutes,
	}
	srv.AuthedRoutes = []core.RouteRegistrar{
		usageHandler.RegisterRoutes,
		alertsHandler.RegisterRoutes,
	}
	srv.MountRoutes()

	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})

	return serveHTTP(srv, cfg, logger)
}

// newDBPool builds the pgx connection pool from the database configuration
// and verifies connectivity before the server accepts traffic.
func newDBPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// serveHTTP runs the HTTP server until a shutdown signal or server error,
// then drains in-flight requests with a 10-second deadline.
func serveHTTP(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
