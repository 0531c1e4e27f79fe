package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/scheduler"
	"github.com/odyssey-erp/odyssey-ledger/internal/users"
)

// Scheduled task codes.
const (
	TaskCodeRunDueDaily        = "accruals.run_due_daily"
	TaskCodePeriodEnd          = "accruals.period_end"
	TaskCodeReversalsDaily     = "accruals.reversals_daily"
	TaskCodeIdempotencyCleanup = "maintenance.idempotency_cleanup"

	idempotencyRetention = 7 * 24 * time.Hour
)

// OrganizationLister enumerates tenants.
type OrganizationLister interface {
	ListOrganizations(ctx context.Context) ([]users.Organization, error)
}

// SystemActorResolver returns the background actor of an organization.
type SystemActorResolver interface {
	SystemActorID(ctx context.Context, orgID uuid.UUID) (uuid.UUID, error)
}

// PeriodFinder locates the periods a scheduled accrual task targets.
type PeriodFinder interface {
	FindOpenPeriodForDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.Period, error)
	ListOpenEndingOn(ctx context.Context, orgID uuid.UUID, date time.Time) ([]periods.Period, error)
}

// KeyCleaner prunes stored idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ScheduleConfig holds the UTC times of day the accrual tasks fire.
type ScheduleConfig struct {
	RunDueAt     string
	PeriodEndAt  string
	ReversalsAt  string
	CleanupEvery time.Duration
}

// AccrualTasks builds the scheduler definitions that drive accruals for every
// organization with its system actor.
type AccrualTasks struct {
	Runner  AccrualRunner
	Orgs    OrganizationLister
	Actors  SystemActorResolver
	Periods PeriodFinder
	Keys    KeyCleaner
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewAccrualTasks constructs the scheduled accrual tasks.
func NewAccrualTasks(runner AccrualRunner, orgs OrganizationLister, actors SystemActorResolver, finder PeriodFinder, keys KeyCleaner, logger *slog.Logger) *AccrualTasks {
	return &AccrualTasks{
		Runner:  runner,
		Orgs:    orgs,
		Actors:  actors,
		Periods: finder,
		Keys:    keys,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Definitions returns the scheduler registrations.
func (t *AccrualTasks) Definitions(cfg ScheduleConfig) ([]scheduler.Definition, error) {
	runDue, err := scheduler.DailyAt(orDefault(cfg.RunDueAt, "00:15"))
	if err != nil {
		return nil, err
	}
	periodEnd, err := scheduler.DailyAt(orDefault(cfg.PeriodEndAt, "23:30"))
	if err != nil {
		return nil, err
	}
	reversals, err := scheduler.DailyAt(orDefault(cfg.ReversalsAt, "00:30"))
	if err != nil {
		return nil, err
	}
	defs := []scheduler.Definition{
		{Code: TaskCodeRunDueDaily, Name: "Run due accruals", Schedule: runDue, Handler: t.RunDueDaily},
		{Code: TaskCodePeriodEnd, Name: "Run period-end accruals", Schedule: periodEnd, Handler: t.PeriodEnd},
		{Code: TaskCodeReversalsDaily, Name: "Reverse accruals into the current period", Schedule: reversals, Handler: t.ReversalsDaily},
	}
	if t.Keys != nil {
		every := cfg.CleanupEvery
		if every <= 0 {
			every = time.Hour
		}
		defs = append(defs, scheduler.Definition{
			Code: TaskCodeIdempotencyCleanup, Name: "Prune idempotency keys", Schedule: scheduler.Every(every), Handler: t.CleanupKeys,
		})
	}
	return defs, nil
}

// RunDueDaily runs due calendar accruals for today in every organization.
func (t *AccrualTasks) RunDueDaily(ctx context.Context, _ scheduler.Task) (scheduler.Outcome, error) {
	today := shared.DateOnly(t.now())
	posted, failed := 0, 0
	err := t.forEachOrg(ctx, func(ctx context.Context, orgID, actorID uuid.UUID) error {
		results, err := t.Runner.RunDue(ctx, orgID, actorID, today)
		if err != nil {
			return err
		}
		for _, r := range results {
			switch r.Status {
			case accruals.RunStatusPosted:
				if !r.Skipped {
					posted++
				}
			case accruals.RunStatusFailed:
				failed++
			}
		}
		return accruals.FailureError(results)
	})
	msg := fmt.Sprintf("%s: %d posted, %d failed", today.Format("2006-01-02"), posted, failed)
	if err != nil {
		return scheduler.Outcome{Message: msg}, err
	}
	return scheduler.Outcome{Message: msg}, nil
}

// PeriodEnd runs PERIOD_END accruals for open periods ending today.
func (t *AccrualTasks) PeriodEnd(ctx context.Context, _ scheduler.Task) (scheduler.Outcome, error) {
	today := shared.DateOnly(t.now())
	ran := 0
	err := t.forEachOrg(ctx, func(ctx context.Context, orgID, actorID uuid.UUID) error {
		ending, err := t.Periods.ListOpenEndingOn(ctx, orgID, today)
		if err != nil {
			return err
		}
		var errs []error
		for _, p := range ending {
			ran++
			results, err := t.Runner.RunPeriodEnd(ctx, accruals.PeriodEndInput{OrganizationID: orgID, ActorID: actorID, PeriodID: p.ID})
			if err == nil {
				err = accruals.FailureError(results)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("period %s: %w", p.Code, err))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return scheduler.Outcome{}, err
	}
	if ran == 0 {
		return scheduler.Outcome{Skipped: true, Message: "No open periods end today"}, nil
	}
	return scheduler.Outcome{Message: fmt.Sprintf("%d periods processed", ran)}, nil
}

// ReversalsDaily reverses eligible accruals into the open period covering
// today. Organizations without such a period are skipped.
func (t *AccrualTasks) ReversalsDaily(ctx context.Context, _ scheduler.Task) (scheduler.Outcome, error) {
	today := shared.DateOnly(t.now())
	var total accruals.ReversalResult
	err := t.forEachOrg(ctx, func(ctx context.Context, orgID, actorID uuid.UUID) error {
		period, err := t.Periods.FindOpenPeriodForDate(ctx, orgID, today)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result, err := t.Runner.RunReversals(ctx, orgID, actorID, period.ID)
		if err != nil {
			return err
		}
		total.ReversedCount += result.ReversedCount
		total.FailedCount += result.FailedCount
		return nil
	})
	msg := fmt.Sprintf("%d reversed, %d failed", total.ReversedCount, total.FailedCount)
	if err != nil {
		return scheduler.Outcome{Message: msg}, err
	}
	return scheduler.Outcome{Message: msg}, nil
}

// CleanupKeys prunes idempotency keys past retention.
func (t *AccrualTasks) CleanupKeys(ctx context.Context, _ scheduler.Task) (scheduler.Outcome, error) {
	n, err := t.Keys.Cleanup(ctx, idempotencyRetention)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	if n == 0 {
		return scheduler.Outcome{Skipped: true, Message: "Nothing to prune"}, nil
	}
	return scheduler.Outcome{Message: fmt.Sprintf("%d keys pruned", n)}, nil
}

// forEachOrg runs fn for every organization with its system actor. A failing
// organization does not stop the others; failures are joined.
func (t *AccrualTasks) forEachOrg(ctx context.Context, fn func(ctx context.Context, orgID, actorID uuid.UUID) error) error {
	orgs, err := t.Orgs.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}
	var errs []error
	for _, org := range orgs {
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		actorID, err := t.Actors.SystemActorID(ctx, org.ID)
		if err == nil {
			err = fn(ctx, org.ID, actorID)
		}
		if err != nil {
			t.log().Warn("scheduled accrual work failed", slog.String("organization_id", org.ID.String()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("organization %s: %w", org.ID, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", shared.ErrTaskExecution, errors.Join(errs...))
}

func (t *AccrualTasks) now() time.Time {
	if t.clock != nil {
		return t.clock()
	}
	return time.Now().UTC()
}

func (t *AccrualTasks) log() *slog.Logger {
	if t.Logger != nil {
		return t.Logger.With(slog.String("job", "scheduled_accruals"))
	}
	return slog.Default().With(slog.String("job", "scheduled_accruals"))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
