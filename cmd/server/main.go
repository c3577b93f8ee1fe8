package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/config"
	"github.com/zetra-hq/zetra-sync/internal/server/handlers"
	"github.com/zetra-hq/zetra-sync/internal/server/middleware"
	"github.com/zetra-hq/zetra-sync/internal/server/storage/sqlite"
	"github.com/zetra-hq/zetra-sync/internal/syncengine"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting zetra-sync server",
		"version", Version,
		"addr", cfg.Addr,
		"db_path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Хранилище: SQLite с embedded миграциями
	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	jwtConfig := handlers.JWTConfig{
		Secret:          []byte(cfg.JWTSecret),
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	}

	// Движок синхронизации
	orchestrator := syncengine.NewOrchestrator(logger, store, store, store)
	resolver := syncengine.NewResolver(logger, store, store)

	// Handlers
	authHandler := handlers.NewAuthHandler(logger, store, store, jwtConfig)
	syncHandler := handlers.NewSyncHandler(logger, orchestrator, store)
	conflictsHandler := handlers.NewConflictsHandler(logger, store, resolver)
	healthHandler := handlers.NewHealthHandler(logger, store, Version)

	// Маршруты (Go 1.22+ method+path patterns)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)

	// Sync endpoints защищены JWT middleware
	auth := middleware.AuthMiddleware(logger, jwtConfig)
	mux.Handle("POST /api/v1/sync", auth(http.HandlerFunc(syncHandler.HandleSync)))
	mux.Handle("GET /api/v1/sync", auth(http.HandlerFunc(syncHandler.HandleSync)))
	mux.Handle("GET /api/v1/sync/operations", auth(http.HandlerFunc(syncHandler.HandleHistory)))
	mux.Handle("GET /api/v1/sync/conflicts", auth(http.HandlerFunc(conflictsHandler.HandleList)))
	mux.Handle("PUT /api/v1/sync/conflicts/{id}", auth(http.HandlerFunc(conflictsHandler.HandleResolve)))

	// Цепочка middleware: recovery -> logging -> rate limit -> mux.
	// Auth-endpoints ограничиваются жестче общего лимита
	authLimits := []middleware.PathRateLimit{
		{Path: "/api/v1/auth/login", Rate: cfg.AuthRateLimit, Window: cfg.RateWindow},
		{Path: "/api/v1/auth/register", Rate: cfg.AuthRateLimit, Window: cfg.RateWindow},
	}
	var handler http.Handler = mux
	handler = middleware.RateLimitByPathMiddleware(authLimits, cfg.RateLimit, cfg.RateWindow, logger)(handler)
	handler = middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newLogger создает slog логгер с уровнем из конфигурации
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

func printVersion() {
	fmt.Printf("Zetra Sync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
