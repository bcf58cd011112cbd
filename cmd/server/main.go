package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/api"
	"github.com/relaycore/smsqueue/internal/config"
	"github.com/relaycore/smsqueue/internal/db"
	"github.com/relaycore/smsqueue/internal/metrics"
	"github.com/relaycore/smsqueue/internal/provider"
	"github.com/relaycore/smsqueue/internal/ratelimiter"
	"github.com/relaycore/smsqueue/internal/repository"
	"github.com/relaycore/smsqueue/internal/service"
	"github.com/relaycore/smsqueue/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.ServiceHooks()

	repo := repository.NewPgQueueRepository(pool)
	gateway := provider.NewSMSGateway(cfg.GatewayBaseURL, cfg.GatewayTimeout)
	limiter := ratelimiter.New(cfg.SendRateLimit)
	classifier := service.NewClassifier(cfg.PermanentErrorCodes)

	canceller := service.NewCanceller(repo, logger, hooks)
	dispatcher := service.NewDispatcher(repo, gateway, classifier, canceller, limiter, logger, hooks)
	reconciler := service.NewReconciler(repo, dispatcher, classifier, logger, hooks)
	svc := service.NewQueueService(repo, dispatcher, service.EntryDefaults{
		MaxRetries:     cfg.MaxRetries,
		TimeoutMinutes: cfg.TimeoutMinutes,
	}, logger, hooks)

	// ---- background sweeper ----
	// Context for background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	sweeper := worker.NewSweeper(repo, dispatcher, cfg.SweepInterval, logger, m.SweeperHook())
	go sweeper.Run(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(svc, reconciler, canceller, repo, cfg.WebhookSecret, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests; in-flight webhooks drain here.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the sweeper. Anything it was mid-resolving is CAS-guarded,
	// so a restart picks up exactly where this process left off.
	cancelWorkers()

	logger.Info("server stopped cleanly")
}
