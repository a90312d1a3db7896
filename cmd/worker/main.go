package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/economato/stock-ledger/internal/app"
	"github.com/economato/stock-ledger/internal/ledger"
	"github.com/economato/stock-ledger/internal/observability"
	"github.com/economato/stock-ledger/internal/outbox"
	"github.com/economato/stock-ledger/internal/platform/cache"
	"github.com/economato/stock-ledger/internal/platform/db"
	"github.com/economato/stock-ledger/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()

	ledgerRepo := ledger.NewRepository(pool)
	snapshotCache := ledger.NewSnapshotCache(redisClient, cfg.SnapshotCacheTTL)
	ledgerService := ledger.NewService(ledgerRepo, snapshotCache, logger, metrics, ledger.ServiceConfig{
		MaxRetries:   cfg.MovementMaxRetries,
		RetryBackoff: cfg.MovementRetryBackoff,
	})

	locker := redislock.New(redisClient)
	verifyJob := jobs.NewVerifyAllJob(ledgerService, locker, logger, cfg.VerifyLockTTL)
	auditHandler := jobs.NewAuditDeliveryHandler(logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	publisher := jobs.NewQueuePublisher(redisOpts)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", slog.Any("error", err))
		}
	}()

	outboxStore := outbox.NewStore(pool)
	dispatcher := outbox.NewDispatcher(outboxStore, publisher, logger, cfg.OutboxPollInterval)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox dispatcher", slog.Any("error", err))
			stop()
		}
	}()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVerifyAllChains, Handler: verifyJob.HandleTask},
			{Type: jobs.TaskDeliverAuditEvent, Handler: auditHandler.HandleTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.VerifyCronSpec, Task: jobs.NewVerifyAllTask(), Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
