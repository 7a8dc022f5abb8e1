package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zazakia/fbmsbackup3-sub010/internal/app"
	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/cache"
	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/db"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/queue"
	"github.com/zazakia/fbmsbackup3-sub010/internal/recovery"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
	"github.com/zazakia/fbmsbackup3-sub010/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, auditLogger, nil, nil)

	queueRepo := queue.NewRepository(pool)
	queueCache := queue.NewCache(redisClient, cfg.QueueCacheTTL)
	queueService := queue.NewService(queueRepo, purchasingRepo, auditLogger, nil, queueCache, nil, logger)

	executor := recovery.NewExecutor(cfg.RecoveryMaxRetries, cfg.RecoveryBackoff, logger)

	refreshTask, err := jobs.NewQueueRefreshTask(time.Now())
	if err != nil {
		logger.Error("build queue refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	overdueTask, err := jobs.NewOverdueScanTask(time.Time{})
	if err != nil {
		logger.Error("build overdue scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.ReceivingDuplicateWindow)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQueueRefresh, Handler: jobs.NewQueueRefreshHandler(queueService, executor, logger)},
			{Type: jobs.TaskOverdueScan, Handler: jobs.NewOverdueScanHandler(purchasingService, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 6 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
