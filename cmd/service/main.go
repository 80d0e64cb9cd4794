// cmd/service/main.go
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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-manager/internal/api"
	"github-manager/internal/config"
	"github-manager/internal/github"
	"github-manager/internal/queue"
	"github-manager/internal/store"
	"github-manager/internal/syncer"
	"github-manager/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	db := store.NewPostgres(dbpool)

	tokens, err := github.NewTokenManager(cfg.AppID, cfg.InstallationID, cfg.PrivateKey, cfg.BaseURL, db, logger)
	if err != nil {
		return err
	}
	limits := github.NewRateLimitTracker(db, logger)
	ghClient := github.NewClient(tokens, limits, db, logger, cfg.BaseURL)

	rec := syncer.NewReconciler(db, logger)
	pool := queue.NewPool(logger, 256)
	syncer.NewJobs(ghClient, rec, logger).Register(pool)
	scheduler := syncer.NewScheduler(db, pool, logger)

	roles := api.NewTokenRoles(cfg.AdminTokens, cfg.MaintainerTokens, cfg.ViewerTokens)
	webhooks := webhook.NewHandler(cfg.WebhookSecret, pool, rec, logger)
	router := api.NewRouter(ghClient, rec, db, pool, roles, webhooks, logger)

	// 6. Start workers, scheduler and the HTTP server
	go pool.Start(ctx, cfg.QueueWorkers)
	go scheduler.Start(ctx)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// 7. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
