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

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, "up", 0, logger); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.Postgres("api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	services := app.NewServices(dbpool, cfg, jobMetrics, logger)

	redisOpts := cfg.Queue()
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		Accounts:       accounts.NewHandler(logger, services.Accounts),
		Periods:        periods.NewHandler(logger, services.Periods, services.Audit),
		Journals:       journals.NewHandler(logger, services.Journals, services.Audit),
		Ledger:         ledger.NewHandler(logger, services.Ledger),
		Accruals:       accruals.NewHandler(logger, services.Accruals, services.Audit, queue, services.Idempotency),
		ScheduledTasks: scheduler.NewHandler(logger, services.Tasks),
		Jobs:           jobs.NewHandler(inspector, logger),
		ReadinessChecks: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    app.PingRedis(redisClient),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
