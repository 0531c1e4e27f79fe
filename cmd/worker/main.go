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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/scheduler"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, cfg.Postgres("worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
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
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	services := app.NewServices(pool, cfg, jobMetrics, logger)

	accrualJob := jobs.NewAccrualJob(services.Accruals, logger, jobMetrics)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Queue(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    accrualJob.Handlers(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(ctx)
	})

	if cfg.WorkerMetricsAddr != "" {
		server := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.SchedulerEnabled {
		sched, err := newScheduler(cfg, services, pool, redisClient, jobMetrics, logger)
		if err != nil {
			logger.Error("init scheduler", slog.Any("error", err))
			os.Exit(1)
		}
		group.Go(func() error {
			return sched.Run(ctx)
		})
	} else {
		logger.Info("scheduler disabled")
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func newScheduler(cfg *app.Config, services *app.Services, pool *pgxpool.Pool, client redis.UniversalClient, metrics *jobmetrics.Metrics, logger *slog.Logger) (*scheduler.Scheduler, error) {
	locker, err := app.NewLocker(cfg, pool, client)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(services.TaskRepo, locker, scheduler.Config{
		PollInterval: cfg.SchedulerPollInterval,
		BatchSize:    cfg.SchedulerBatchSize,
		MaxAttempts:  cfg.SchedulerMaxAttempts,
		InstanceID:   cfg.SchedulerInstanceID,
	}, metrics, logger)

	tasks := jobs.NewAccrualTasks(services.Accruals, services.Users, services.Users, services.Periods, services.Idempotency, logger)
	defs, err := tasks.Definitions(jobs.ScheduleConfig{
		RunDueAt:     cfg.AccrualDailyAt,
		PeriodEndAt:  cfg.AccrualPeriodEndAt,
		ReversalsAt:  cfg.AccrualReversalsAt,
		CleanupEvery: cfg.KeyCleanupEvery,
	})
	if err != nil {
		return nil, err
	}
	if err := sched.Register(defs...); err != nil {
		return nil, err
	}
	return sched, nil
}
