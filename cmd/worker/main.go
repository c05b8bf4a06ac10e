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

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crewnet-hq/crewnet/internal/app"
	"github.com/crewnet-hq/crewnet/internal/auth"
	"github.com/crewnet-hq/crewnet/internal/platform/cache"
	"github.com/crewnet-hq/crewnet/internal/platform/db"
	"github.com/crewnet-hq/crewnet/internal/relationships"
	"github.com/crewnet-hq/crewnet/internal/shared"
	"github.com/crewnet-hq/crewnet/internal/statuscache"
	"github.com/crewnet-hq/crewnet/jobs"
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

	// The worker cannot run without its queue backend, unlike the API
	// which degrades to cold status lookups.
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

	relationshipsRepo := relationships.NewRepository(pool)
	relationshipsService := relationships.NewService(relationshipsRepo, auditLogger)
	resolver := relationships.NewResolver(relationshipsRepo)
	statusCache := statuscache.NewCache(resolver, redisClient, cfg.StatusCacheTTL, logger)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)

	tombstoneJob := jobs.NewTombstoneCleanupJob(relationshipsService, logger, nil)
	sessionJob := jobs.NewSessionCleanupJob(authService, logger, nil)
	idempotencyJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, nil)
	warmupJob := jobs.NewStatusWarmupJob(statusCache, pool, logger, nil)

	retentionDays := int(cfg.TombstoneRetention.Hours() / 24)
	tombstoneTask, err := jobs.NewTombstoneCleanupTask(jobs.TombstoneCleanupPayload{RetentionDays: retentionDays})
	if err != nil {
		logger.Error("build tombstone task", slog.Any("error", err))
		os.Exit(1)
	}
	sessionTask, err := jobs.NewSessionCleanupTask()
	if err != nil {
		logger.Error("build session task", slog.Any("error", err))
		os.Exit(1)
	}
	idempotencyTask, err := jobs.NewIdempotencyCleanupTask(jobs.CleanupPayload{OlderThanHours: 24})
	if err != nil {
		logger.Error("build idempotency task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewStatusWarmupTask(jobs.StatusWarmupPayload{Limit: 200})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTombstoneCleanup, Handler: tombstoneJob.Handle},
			{Type: jobs.TaskSessionCleanup, Handler: sessionJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idempotencyJob.Handle},
			{Type: jobs.TaskStatusWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: tombstoneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: sessionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: idempotencyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// job counters register on the default registry as jobs run
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
