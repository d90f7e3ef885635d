package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexledger/lexledger/internal/app"
	jobmetrics "github.com/lexledger/lexledger/internal/jobs"
	"github.com/lexledger/lexledger/internal/observability"
	"github.com/lexledger/lexledger/internal/platform/cache"
	"github.com/lexledger/lexledger/internal/platform/db"
	"github.com/lexledger/lexledger/internal/shared"
	"github.com/lexledger/lexledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewServiceLogger(cfg, "lexledger-worker")

	pool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("lexledger-worker"), db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisOptions()...)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	billingMetrics := observability.NewBillingMetrics(nil)
	jobMetrics := jobmetrics.NewMetrics(nil)
	billingService := app.NewBillingService(cfg, app.BillingDeps{
		Pool:    pool,
		Redis:   redisClient,
		Logger:  logger,
		Metrics: billingMetrics,
	})

	sent := &jobs.InvoiceSentJob{Logger: logger, Metrics: jobMetrics}
	scan := &jobs.OverdueScanJob{Source: billingService, Gauge: billingMetrics, Logger: logger, Metrics: jobMetrics}
	cleanup := &jobs.IdempotencyCleanupJob{
		Store:     shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   jobMetrics,
	}
	handlers, cron, err := jobs.BillingRegistrations(sent, scan, cleanup)
	if err != nil {
		logger.Error("build billing tasks", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// Worker collectors live on the default registry.
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.String("overdue_schedule", jobs.OverdueScanSchedule))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
