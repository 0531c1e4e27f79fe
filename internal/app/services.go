package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/scheduler"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/users"
)

// Services is the ledger object graph shared by the API, the worker and the
// admin CLI.
type Services struct {
	Accounts    *accounts.Service
	Periods     *periods.Service
	Journals    *journals.Service
	Ledger      *ledger.Service
	Accruals    *accruals.Service
	Users       *users.Service
	Tasks       *scheduler.Service
	TaskRepo    scheduler.Repository
	Audit       *shared.AuditLogger
	Idempotency *shared.IdempotencyStore
}

// NewServices wires repositories and services over pool. The period manager
// is given the accrual runner as its close-time accrual checker.
func NewServices(pool *pgxpool.Pool, cfg *Config, metrics *jobmetrics.Metrics, logger *slog.Logger) *Services {
	accountService := accounts.NewService(accounts.NewRepository(pool))
	periodService := periods.NewService(periods.NewRepository(pool))
	journalService := journals.NewService(journals.NewRepository(pool))
	ledgerService := ledger.NewService(ledger.NewRepository(pool), periodService, accountService)

	accrualService := accruals.NewService(accruals.NewRepository(pool), journalService, periodService, logger)
	if metrics != nil {
		accrualService.WithRecorder(metrics)
	}
	periodService.WithAccrualChecker(accrualService)

	systemEmail := users.DefaultSystemEmail
	if cfg != nil && cfg.SystemUserEmail != "" {
		systemEmail = cfg.SystemUserEmail
	}
	taskRepo := scheduler.NewRepository(pool)

	return &Services{
		Accounts:    accountService,
		Periods:     periodService,
		Journals:    journalService,
		Ledger:      ledgerService,
		Accruals:    accrualService,
		Users:       users.NewService(users.NewRepository(pool), systemEmail, logger),
		Tasks:       scheduler.NewService(taskRepo),
		TaskRepo:    taskRepo,
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
	}
}

// NewLocker builds the named-lease backend selected by LOCK_BACKEND. The redis
// client is only required for the redis backend.
func NewLocker(cfg *Config, pool *pgxpool.Pool, client redis.UniversalClient) (lock.Locker, error) {
	switch cfg.LockBackend {
	case LockBackendPostgres:
		return lock.NewPostgresLocker(pool), nil
	case LockBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("lock backend redis requires REDIS_ADDR")
		}
		return lock.NewRedisLocker(client, "odyssey:lease:", cfg.LockTTL), nil
	case LockBackendMemory:
		return lock.NewMemoryLocker(), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
}

// PingRedis adapts a redis client to Pinger.
func PingRedis(client redis.UniversalClient) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
