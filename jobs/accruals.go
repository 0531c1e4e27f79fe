package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// AccrualRunner is the slice of the accrual service background jobs drive.
type AccrualRunner interface {
	RunOne(ctx context.Context, in accruals.RunOneInput) (accruals.RunResult, error)
	RunDue(ctx context.Context, orgID, actorID uuid.UUID, asOf time.Time) ([]accruals.RunResult, error)
	RunPeriodEnd(ctx context.Context, in accruals.PeriodEndInput) ([]accruals.RunResult, error)
	RunReversals(ctx context.Context, orgID, actorID, periodID uuid.UUID) (accruals.ReversalResult, error)
}

// AccrualJob executes queued accrual operations.
type AccrualJob struct {
	Runner  AccrualRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAccrualJob constructs the job handler.
func NewAccrualJob(runner AccrualRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccrualJob {
	return &AccrualJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handlers lists the task types this job serves.
func (j *AccrualJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAccrualRunOne, Handler: j.Handle},
		{Type: TaskAccrualRunDue, Handler: j.Handle},
		{Type: TaskAccrualPeriodEnd, Handler: j.Handle},
		{Type: TaskAccrualReversals, Handler: j.Handle},
	}
}

// Handle decodes and dispatches one accrual task. Validation, not-found and
// conflict failures are not retried.
func (j *AccrualJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("accrual job: dependencies not configured")
	}
	var job accruals.AsyncJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	expected, err := TaskTypeFor(job.Kind)
	if err != nil || expected != task.Type() {
		return fmt.Errorf("job kind %q does not match task %s: %w", job.Kind, task.Type(), asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(task.Type())
	err = j.dispatch(ctx, job)
	tracker.End(err)
	if err == nil {
		return nil
	}
	j.log().Error("accrual job failed",
		slog.String("task", task.Type()),
		slog.String("organization_id", job.OrganizationID.String()),
		slog.Any("error", err))
	switch shared.KindOf(err) {
	case shared.KindValidation, shared.KindNotFound, shared.KindConflict:
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (j *AccrualJob) dispatch(ctx context.Context, job accruals.AsyncJob) error {
	switch job.Kind {
	case accruals.JobRunOne:
		result, err := j.Runner.RunOne(ctx, accruals.RunOneInput{
			OrganizationID:   job.OrganizationID,
			ActorID:          job.ActorID,
			RuleID:           *job.RuleID,
			AsOfDate:         *job.AsOfDate,
			PeriodIDOverride: job.PeriodID,
		})
		if err != nil {
			return err
		}
		j.log().Info("accrual run finished",
			slog.String("rule_id", result.RuleID.String()),
			slog.Bool("skipped", result.Skipped),
			slog.String("reason", result.Reason))
		return nil
	case accruals.JobRunDue:
		results, err := j.Runner.RunDue(ctx, job.OrganizationID, job.ActorID, *job.AsOfDate)
		if err != nil {
			return err
		}
		return accruals.FailureError(results)
	case accruals.JobPeriodEnd:
		results, err := j.Runner.RunPeriodEnd(ctx, accruals.PeriodEndInput{
			OrganizationID:   job.OrganizationID,
			ActorID:          job.ActorID,
			PeriodID:         *job.PeriodID,
			AsOfDateOverride: job.AsOfDate,
		})
		if err != nil {
			return err
		}
		return accruals.FailureError(results)
	case accruals.JobReversals:
		result, err := j.Runner.RunReversals(ctx, job.OrganizationID, job.ActorID, *job.PeriodID)
		if err != nil {
			return err
		}
		if result.FailedCount > 0 {
			return fmt.Errorf("%w: %d of %d reversals failed", shared.ErrTaskExecution, result.FailedCount, result.FailedCount+result.ReversedCount)
		}
		return nil
	}
	return shared.Invalid(fmt.Sprintf("accrual job: unknown kind %q", job.Kind))
}

func (j *AccrualJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", "accruals"))
	}
	return slog.Default().With(slog.String("job", "accruals"))
}
