package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// JobsCLI wraps manual management helpers for accrual jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Enqueue submits an accrual job and returns its task id.
func (c *JobsCLI) Enqueue(ctx context.Context, job accruals.AsyncJob) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueAccrualJob(ctx, job)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processedToday"`
	Failed    int    `json:"failedToday"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue(_ context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return QueueStats{Queue: jobs.QueueDefault}, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{
		Queue:     jobs.QueueDefault,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Processed: info.Processed,
		Failed:    info.Failed,
	}, nil
}

// ListRetry returns accrual tasks waiting for a retry, most useful after a
// failed run_due or period_end.
func (c *JobsCLI) ListRetry(_ context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	tasks, err := c.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, nil
	}
	return tasks, err
}
