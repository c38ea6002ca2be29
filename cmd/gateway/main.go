package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/poiselabs/poise-gateway/internal/analysis"
	"github.com/poiselabs/poise-gateway/internal/api"
	"github.com/poiselabs/poise-gateway/internal/archive"
	"github.com/poiselabs/poise-gateway/internal/backend"
	"github.com/poiselabs/poise-gateway/internal/config"
	"github.com/poiselabs/poise-gateway/internal/db"
	"github.com/poiselabs/poise-gateway/internal/logging"
)

// shutdownTimeout caps the drain on SIGTERM. Quick requests finish; a
// submission still waiting on the analysis backend is abandoned, and its
// owner picks the result up through the status poll once the backend
// finishes.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	addrFlag := flag.String("addr", "", "listen address (overrides "+config.EnvListenAddr+")")
	dbFlag := flag.String("db", "", "sqlite database path (overrides "+config.EnvDBPath+")")
	backendFlag := flag.String("backend", "", "analysis service URL (overrides "+config.EnvBackendURL+")")
	envFile := flag.String("env-file", "", "load environment from this file before reading config")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		// A missing .env in the working directory is fine.
		_ = godotenv.Load()
	}

	// Flags win over the environment. Setting them back keeps config.New
	// the single parse path.
	if *addrFlag != "" {
		os.Setenv(config.EnvListenAddr, *addrFlag)
	}
	if *dbFlag != "" {
		os.Setenv(config.EnvDBPath, *dbFlag)
	}
	if *backendFlag != "" {
		os.Setenv(config.EnvBackendURL, *backendFlag)
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting poise gateway",
		"version", config.Version,
		"commit", config.GitCommit,
		"addr", cfg.ListenAddr(),
		"backend", cfg.BackendURL(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store := analysis.NewStore(database.Conn())
	reconciler := analysis.NewReconciler(store, cfg.Timeouts().RecoveryWindow, logger)

	backendClient := backend.NewClient(backend.Options{
		BaseURL:       cfg.BackendURL(),
		HeaderTimeout: cfg.Timeouts().HeaderTimeout,
		Logger:        logger,
	})
	prober := backend.NewCachedProber(backendClient, cfg.Timeouts().HealthCacheTTL, logger)

	var archiveStore archive.Store = archive.Disabled{}
	if cfg.Archive().Enabled() {
		initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
		s, err := archive.New(initCtx, cfg.Archive(), logger)
		initCancel()
		if err != nil {
			return fmt.Errorf("failed to initialize video archive: %w", err)
		}
		archiveStore = s
		logger.Info("video archive enabled",
			"endpoint", cfg.Archive().Endpoint,
			"bucket", cfg.Archive().Bucket,
		)
	}

	orchestrator := analysis.NewOrchestrator(
		backendClient,
		store,
		reconciler,
		archiveStore,
		cfg.Timeouts(),
		cfg.MaxConcurrent(),
		logger,
	)

	server := api.NewServer(api.ServerConfig{
		Addr:               cfg.ListenAddr(),
		Orchestrator:       orchestrator,
		Reconciler:         reconciler,
		Store:              store,
		Prober:             prober,
		Archive:            archiveStore,
		Verifier:           api.NewTokenVerifier([]byte(cfg.AuthSecret())),
		Timeouts:           cfg.Timeouts(),
		AllowedOrigins:     cfg.AllowedOrigins(),
		SpoolDir:           cfg.SpoolDir(),
		MaxUploadBytes:     cfg.MaxUploadBytes(),
		RateLimitPerMinute: cfg.RateLimitPerMinute(),
		Logger:             logger,
		StartTime:          startTime,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Warm the health cache so the first /api/health answer is honest.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if prober.Refresh(probeCtx) {
		logger.Info("analysis backend reachable")
	} else {
		logger.Warn("analysis backend not reachable; submissions will fail until it comes up")
	}
	probeCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
