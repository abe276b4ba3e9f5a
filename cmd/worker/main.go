package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian-hms/internal/app"
	"github.com/meridian-hms/meridian-hms/internal/audit"
	jobmetrics "github.com/meridian-hms/meridian-hms/internal/jobs"
	"github.com/meridian-hms/meridian-hms/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	scanJob := jobs.NewSecurityScanJob(audit.NewRepository(pool), logger, metrics)
	sweepJob := jobs.NewSessionSweepJob(pool, logger, metrics)

	scanTask, err := jobs.NewSecurityScanTask(jobs.SecurityScanPayload{WindowHours: 24})
	if err != nil {
		logger.Error("build security scan task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewSessionSweepTask(jobs.SessionSweepPayload{GraceHours: 24})
	if err != nil {
		logger.Error("build session sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSecurityScan, Handler: scanJob.Handle},
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
