package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zazakia/fbmsbackup3-sub010/internal/app"
	"github.com/zazakia/fbmsbackup3-sub010/internal/observability"
	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/cache"
	"github.com/zazakia/fbmsbackup3-sub010/internal/platform/db"
	"github.com/zazakia/fbmsbackup3-sub010/internal/purchasing"
	"github.com/zazakia/fbmsbackup3-sub010/internal/queue"
	"github.com/zazakia/fbmsbackup3-sub010/internal/receiving"
	"github.com/zazakia/fbmsbackup3-sub010/internal/shared"
	"github.com/zazakia/fbmsbackup3-sub010/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	purchasingRepo := purchasing.NewRepository(dbpool)

	queueRepo := queue.NewRepository(dbpool)
	queueCache := queue.NewCache(redisClient, cfg.QueueCacheTTL)
	queueService := queue.NewService(queueRepo, purchasingRepo, auditLogger,
		queue.LogNotifier{Logger: logger}, queueCache, metrics, logger)
	integration := queue.NewAdapter(queueService)

	purchasingService := purchasing.NewService(purchasingRepo, auditLogger, integration, queueService)

	receivingRepo := receiving.NewRepository(dbpool)
	receivingService := receiving.NewService(receivingRepo, idempotencyStore, auditLogger, integration, receiving.ServiceConfig{
		Validator: receiving.ValidatorOptions{
			AllowOverReceiving:   cfg.ReceivingAllowOver,
			TolerancePct:         cfg.ReceivingTolerancePct,
			RequireBatchTracking: cfg.ReceivingRequireBatch,
			RequireExpiryDates:   cfg.ReceivingRequireExpiry,
			CostVarianceWarnPct:  cfg.ReceivingCostWarnPct,
		},
		VarianceReportPct: cfg.ReceivingVariancePct,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PurchasingHandler: purchasing.NewHandler(logger, purchasingService, auditLogger),
		ReceivingHandler:  receiving.NewHandler(logger, receivingService, metrics),
		QueueHandler:      queue.NewHandler(logger, queueService),
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
