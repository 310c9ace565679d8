// Merlin - Device warranty quoting and basket discounts.
// Copyright (c) 2025 OpenCover
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencover/merlin/internal/api"
	"github.com/opencover/merlin/internal/assign"
	"github.com/opencover/merlin/internal/basket"
	"github.com/opencover/merlin/internal/bus"
	"github.com/opencover/merlin/internal/cache"
	"github.com/opencover/merlin/internal/diag"
	"github.com/opencover/merlin/internal/domain"
	"github.com/opencover/merlin/internal/rating"
	"github.com/opencover/merlin/internal/repository"
	"github.com/opencover/merlin/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MERLIN_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting merlin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	if os.Getenv("MERLIN_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if path := os.Getenv("MERLIN_CONFIG"); path != "" {
		loaded, err := domain.LoadConfig(path, cfg)
		if err != nil {
			slog.Error("failed to load config file", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("config file loaded", "path", path)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Configuration reads go through a read-through snapshot cache.
	cachedRepo := repository.NewCached(repo, cacheImpl, cfg.Cache.LocalTTL, logger)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Diagnostics recorder drains in the background; close it last so
	// late entries still land.
	recorder := diag.NewRecorder(repo, busImpl, logger, 256)
	defer recorder.Close()

	// Quoting core
	resolver := assign.NewResolver(cachedRepo, recorder)
	calculator := rating.NewCalculator(cachedRepo, resolver, recorder, busImpl)
	slog.Info("quoting core initialized")

	// Basket core
	baskets := basket.NewService(cachedRepo, busImpl, logger)
	engine, err := basket.NewEngine(cachedRepo, busImpl, logger)
	if err != nil {
		slog.Error("failed to initialize discount engine", "error", err)
		os.Exit(1)
	}
	slog.Info("discount engine initialized")

	// Async re-rating worker (Pro tier, or opt-in)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("MERLIN_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, engine, logger)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cachedRepo, cacheImpl, busImpl, resolver, calculator, baskets, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("merlin is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("merlin shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  MERLIN - warranty quoting engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assignment              - Resolve eligible products")
	fmt.Println("    POST /rate                    - Rate a single request")
	fmt.Println("    POST /quote                   - Batch rate into a quote")
	fmt.Println("    POST /quote/device            - Quote a registered device")
	fmt.Println("    GET  /quote/{id}              - Get quote by ID")
	fmt.Println("    POST /basket/add              - Add a quoted option to a basket")
	fmt.Println("    GET  /basket/{id}             - Get basket by ID")
	fmt.Println("    POST /basket/rate             - Apply discount rules")
	fmt.Println("    GET/POST /config/criteria     - Eligibility criteria admin")
	fmt.Println("    GET/POST /config/ratings      - Rating config admin")
	fmt.Println("    GET/POST /config/discounts    - Discount rule admin")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
