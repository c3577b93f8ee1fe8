package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/zetra-hq/zetra-sync/internal/client/api"
	"github.com/zetra-hq/zetra-sync/internal/client/auth"
	"github.com/zetra-hq/zetra-sync/internal/client/cli"
	"github.com/zetra-hq/zetra-sync/internal/client/data"
	"github.com/zetra-hq/zetra-sync/internal/client/iocli"
	"github.com/zetra-hq/zetra-sync/internal/client/storage/boltdb"
	"github.com/zetra-hq/zetra-sync/internal/client/sync"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := envOr("ZETRA_SERVER", "http://localhost:8080")
	dbPath := envOr("ZETRA_DB", "zetra-client.db")

	ctx := context.Background()

	// Локальное хранилище: кеш сущностей, очередь операций, сессия
	store, err := boltdb.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn, // CLI шумит только о проблемах
	}))

	io := iocli.NewStdio()
	apiClient := api.NewClient(serverURL)
	authService := auth.NewService(apiClient, store)
	dataService := data.NewService(store, store)
	syncService := sync.NewService(apiClient, authService, store, store, store, logger)

	root := cli.New(io, authService, dataService, syncService)
	root.Version = Version

	return root.ExecuteContext(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printVersion() {
	fmt.Printf("Zetra Sync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
