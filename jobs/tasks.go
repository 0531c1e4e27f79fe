package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskAccrualRunOne posts one rule for one date.
	TaskAccrualRunOne = "accrual:run_one"
	// TaskAccrualRunDue runs every calendar rule due on a date.
	TaskAccrualRunDue = "accrual:run_due"
	// TaskAccrualPeriodEnd runs the PERIOD_END rules of a period.
	TaskAccrualPeriodEnd = "accrual:period_end"
	// TaskAccrualReversals reverses eligible runs into a period.
	TaskAccrualReversals = "accrual:reversals"

	defaultMaxRetry = 3
)

// TaskTypeFor maps an accrual job kind to its task type.
func TaskTypeFor(kind accruals.JobKind) (string, error) {
	switch kind {
	case accruals.JobRunOne:
		return TaskAccrualRunOne, nil
	case accruals.JobRunDue:
		return TaskAccrualRunDue, nil
	case accruals.JobPeriodEnd:
		return TaskAccrualPeriodEnd, nil
	case accruals.JobReversals:
		return TaskAccrualReversals, nil
	}
	return "", fmt.Errorf("jobs: unknown accrual job kind %q", kind)
}

// NewAccrualTask constructs an Asynq task for an accrual job. Jobs carrying an
// idempotency key get a deterministic task id so the queue rejects repeats.
func NewAccrualTask(job accruals.AsyncJob) (*asynq.Task, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	taskType, err := TaskTypeFor(job.Kind)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(defaultMaxRetry)}
	if job.IdempotencyKey != "" {
		opts = append(opts, asynq.TaskID(AccrualTaskID(job)))
	}
	return asynq.NewTask(taskType, body, opts...), nil
}

// AccrualTaskID is the queue-level dedup id for a keyed job.
func AccrualTaskID(job accruals.AsyncJob) string {
	return fmt.Sprintf("accrual:%s:%s", job.OrganizationID, job.IdempotencyKey)
}
