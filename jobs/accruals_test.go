package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accruals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

type fakeRunner struct {
	runOne     []accruals.RunOneInput
	due        map[uuid.UUID][]accruals.RunResult
	dueErr     error
	periodEnds []accruals.PeriodEndInput
	periodErr  error
	reversals  map[uuid.UUID]accruals.ReversalResult
	reversed   []uuid.UUID
}

func (f *fakeRunner) RunOne(_ context.Context, in accruals.RunOneInput) (accruals.RunResult, error) {
	f.runOne = append(f.runOne, in)
	return accruals.RunResult{RuleID: in.RuleID, Status: accruals.RunStatusPosted}, nil
}

func (f *fakeRunner) RunDue(_ context.Context, orgID, _ uuid.UUID, _ time.Time) ([]accruals.RunResult, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	return f.due[orgID], nil
}

func (f *fakeRunner) RunPeriodEnd(_ context.Context, in accruals.PeriodEndInput) ([]accruals.RunResult, error) {
	f.periodEnds = append(f.periodEnds, in)
	if f.periodErr != nil {
		return nil, f.periodErr
	}
	return []accruals.RunResult{{Status: accruals.RunStatusPosted}}, nil
}

func (f *fakeRunner) RunReversals(_ context.Context, orgID, _, periodID uuid.UUID) (accruals.ReversalResult, error) {
	f.reversed = append(f.reversed, periodID)
	return f.reversals[orgID], nil
}

func accrualTask(t *testing.T, job accruals.AsyncJob) *asynq.Task {
	t.Helper()
	task, err := NewAccrualTask(job)
	require.NoError(t, err)
	return task
}

func TestNewAccrualTaskMapsKinds(t *testing.T) {
	org := uuid.New()
	period := uuid.New()
	asOf := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	task := accrualTask(t, accruals.AsyncJob{Kind: accruals.JobRunDue, OrganizationID: org, AsOfDate: &asOf})
	require.Equal(t, TaskAccrualRunDue, task.Type())
	task = accrualTask(t, accruals.AsyncJob{Kind: accruals.JobReversals, OrganizationID: org, PeriodID: &period})
	require.Equal(t, TaskAccrualReversals, task.Type())

	var decoded accruals.AsyncJob
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, period, *decoded.PeriodID)

	_, err := NewAccrualTask(accruals.AsyncJob{Kind: accruals.JobRunOne, OrganizationID: org})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestClientRejectsDuplicateKeyedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	org := uuid.New()
	asOf := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	job := accruals.AsyncJob{Kind: accruals.JobRunDue, OrganizationID: org, AsOfDate: &asOf, IdempotencyKey: "close-jan"}

	id, err := client.EnqueueAccrualJob(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, AccrualTaskID(job), id)

	_, err = client.EnqueueAccrualJob(context.Background(), job)
	require.ErrorIs(t, err, shared.ErrConflict)

	job.IdempotencyKey = ""
	other, err := client.EnqueueAccrualJob(context.Background(), job)
	require.NoError(t, err)
	require.NotEqual(t, id, other)
}

func TestAccrualJobDispatchesRunOne(t *testing.T) {
	runner := &fakeRunner{}
	reg := prometheus.NewRegistry()
	job := NewAccrualJob(runner, nil, jobmetrics.NewMetrics(reg))
	rule := uuid.New()
	asOf := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	err := job.Handle(context.Background(), accrualTask(t, accruals.AsyncJob{
		Kind: accruals.JobRunOne, OrganizationID: uuid.New(), ActorID: uuid.New(), RuleID: &rule, AsOfDate: &asOf,
	}))
	require.NoError(t, err)
	require.Len(t, runner.runOne, 1)
	require.Equal(t, rule, runner.runOne[0].RuleID)
	require.True(t, asOf.Equal(runner.runOne[0].AsOfDate))
}

func TestAccrualJobRetryPolicy(t *testing.T) {
	org := uuid.New()
	period := uuid.New()
	asOf := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	job := NewAccrualJob(&fakeRunner{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAccrualRunDue, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	mismatched, _ := json.Marshal(accruals.AsyncJob{Kind: accruals.JobRunDue, OrganizationID: org, AsOfDate: &asOf})
	err = job.Handle(context.Background(), asynq.NewTask(TaskAccrualReversals, mismatched))
	require.ErrorIs(t, err, asynq.SkipRetry)

	failing := &fakeRunner{due: map[uuid.UUID][]accruals.RunResult{
		org: {{Status: accruals.RunStatusFailed, Error: "account inactive"}},
	}}
	err = NewAccrualJob(failing, nil, nil).Handle(context.Background(), accrualTask(t, accruals.AsyncJob{Kind: accruals.JobRunDue, OrganizationID: org, AsOfDate: &asOf}))
	require.ErrorIs(t, err, shared.ErrTaskExecution)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	missing := &fakeRunner{periodErr: shared.ErrPeriodNotFound}
	err = NewAccrualJob(missing, nil, nil).Handle(context.Background(), accrualTask(t, accruals.AsyncJob{Kind: accruals.JobPeriodEnd, OrganizationID: org, PeriodID: &period}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, shared.ErrPeriodNotFound)
}
