package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scraperd/internal/browser"
	"scraperd/internal/browser/rod"
	"scraperd/internal/config"
	"scraperd/internal/logging"
	"scraperd/internal/orchestrator"
	"scraperd/internal/queue"
	"scraperd/internal/retry"
	"scraperd/internal/server"
	"scraperd/internal/sink"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	// Engines are owned by the pool, not by the signal context: on
	// SIGTERM in-flight attempts get to finish before the pool closes
	// the browsers down.
	engCfg := rod.DefaultEngineConfig()
	engCfg.Headless = cfg.Headless
	engCfg.NoSandbox = cfg.NoSandbox

	pool, err := browser.NewPool(context.Background(), rod.NewFactory(engCfg), browser.PoolConfig{
		Slots:          cfg.PoolSlots,
		AcquireTimeout: cfg.AcquireTimeout,
	}, logger.Named("pool"))
	if err != nil {
		logger.Fatal("start browser pool", zap.Error(err))
	}

	results := sink.NewMemory(1024)
	orch := orchestrator.New(orchestrator.Config{
		Workers:               cfg.PoolSlots,
		DefaultAttemptTimeout: cfg.DefaultAttemptTimeout,
		DefaultMaxAttempts:    cfg.DefaultMaxAttempts,
	},
		pool,
		queue.New(cfg.QueueCapacity),
		retry.NewCoordinator(cfg.RetryPolicy()),
		retry.NewScheduler(logger.Named("retry")),
		sink.Fanout{results, sink.NewLogger(logger.Named("sink"))},
		logger.Named("orchestrator"),
	)
	orch.Start(context.Background())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.New(orch, results, pool, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.AppEnv),
			zap.Int("pool_slots", cfg.PoolSlots))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()

	logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown", zap.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown", zap.Error(err))
	}
}
