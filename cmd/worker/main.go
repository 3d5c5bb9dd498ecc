package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mise-erp/mise-erp/internal/app"
	jobmetrics "github.com/mise-erp/mise-erp/internal/jobs"
	"github.com/mise-erp/mise-erp/internal/lots"
	"github.com/mise-erp/mise-erp/internal/platform/db"
	"github.com/mise-erp/mise-erp/internal/shared"
	"github.com/mise-erp/mise-erp/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	lotsService := lots.NewService(pool, nil)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	jobMetrics := jobmetrics.NewMetrics(nil)

	now := time.Now().UTC()
	expiryTask, err := jobs.NewLotExpiryScanTask(now)
	if err != nil {
		logger.Error("build expiry scan task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewLayerPurgeTask(now)
	if err != nil {
		logger.Error("build layer purge task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Metrics:   jobMetrics,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLotExpiryScan, Handler: jobs.NewLotExpiryScanHandler(logger, lotsService, cfg.ExpiryScanWindow, jobMetrics)},
			{Type: jobs.TaskLayerPurge, Handler: jobs.NewLayerPurgeHandler(logger, pool, cfg.LayerRetentionDays)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(logger, idempotencyStore, cfg.IdempotencyTTL)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 5 * * *", Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
