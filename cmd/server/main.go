package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dhanababum/supermcp-sub001/internal/api"
	"github.com/dhanababum/supermcp-sub001/internal/backend"
	"github.com/dhanababum/supermcp-sub001/internal/config"
	"github.com/dhanababum/supermcp-sub001/internal/metrics"
	"github.com/dhanababum/supermcp-sub001/internal/pool"
	"github.com/dhanababum/supermcp-sub001/internal/queue"
	"github.com/dhanababum/supermcp-sub001/internal/tenant"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

func main() {
	// Load .env file if present (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := config.Load()

	// Initialize structured logger
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector()

	logger.Info("Starting connector hub",
		"global_max", cfg.Pool.GlobalMax,
		"per_target_max", cfg.Pool.PerTargetMax,
		"idle_ttl", cfg.Pool.IdleTTL)

	// Create Valkey tenant store
	repo, err := tenant.NewValkeyStore(&cfg.Store)
	if err != nil {
		logger.Fatal("Failed to connect to Valkey", "error", err)
	}
	defer repo.Close()

	// Create NATS publisher
	publisher, err := queue.NewNATSPublisher(&cfg.Queue)
	if err != nil {
		logger.Fatal("Failed to create NATS publisher", "error", err)
	}
	defer publisher.Close()
	logger.Info("Connected to NATS JetStream")

	// Create backend factory
	factory := backend.NewFactory(backend.Options{
		PerTargetMax:   cfg.Pool.PerTargetMax,
		ConnectTimeout: cfg.Pool.ConnectTimeout,
	}, logger)

	// Create pool registry
	registry := pool.NewRegistry(pool.Config{
		GlobalMax:     cfg.Pool.GlobalMax,
		PerTargetMax:  cfg.Pool.PerTargetMax,
		IdleTTL:       cfg.Pool.IdleTTL,
		SweepInterval: cfg.Pool.SweepInterval,
		AcquireWait:   cfg.Pool.AcquireWait,
		ShutdownGrace: cfg.Pool.ShutdownGrace,
	}, factory, logger, metricsCollector)

	ctx := context.Background()

	// Create NATS consumer with the invalidation handler
	handler := queue.NewInvalidationHandler(registry, repo, logger)
	consumer, err := queue.NewNATSConsumer(&cfg.Queue, handler)
	if err != nil {
		logger.Fatal("Failed to create NATS consumer", "error", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start NATS consumer", "error", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		consumer.Stop(stopCtx)
	}()
	logger.Info("Started NATS consumer")

	// Start idle reclaimer
	reclaimer := pool.NewReclaimer(registry, logger, metricsCollector)
	if err := reclaimer.Start(ctx); err != nil {
		logger.Fatal("Failed to start reclaimer", "error", err)
	}
	defer reclaimer.Stop()

	// Start metrics gauge updater
	gaugeCtx, cancelGauge := context.WithCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic in metrics updater",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gaugeCtx.Done():
				return
			case <-ticker.C:
				stats := registry.Stats()
				metricsCollector.PoolEntries.Set(float64(stats.Entries))
				metricsCollector.PoolCapacity.Set(float64(stats.Capacity))
				inUse := 0
				for _, n := range stats.PerTarget {
					inUse += n
				}
				metricsCollector.CheckoutsInUse.Set(float64(inUse))
			}
		}
	}()
	defer cancelGauge()

	// Create API handler
	apiHandler := api.NewHandler(cfg, registry, repo, publisher, metricsCollector, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Channel to receive server errors from goroutine
	serverErrCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			serverErrCh <- err
		}
	}()

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)
	case err := <-serverErrCh:
		logger.Error("Server failed, initiating shutdown", "error", err)
	}

	logger.Info("Shutting down server")

	// Stop accepting requests first, then drain the pool
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("Pool drain incomplete", "error", err)
	}

	logger.Info("Server stopped")
}
