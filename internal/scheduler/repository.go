package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Repository persists task schedules and their run history.
type Repository interface {
	// EnsureTask inserts task unless a row with its code exists. Existing
	// schedule state is never overwritten.
	EnsureTask(ctx context.Context, task Task) (bool, error)
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
	GetTask(ctx context.Context, code string) (Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	MarkLocked(ctx context.Context, code, owner string, at time.Time) error
	CompleteAttempt(ctx context.Context, code string, update AttemptUpdate) error
	SetEnabled(ctx context.Context, code string, enabled bool, nextRunAt *time.Time) error
	StartRun(ctx context.Context, code, message string, at time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, status RunStatus, message string, errText *string, at time.Time) error
	RecordRun(ctx context.Context, run TaskRun) error
	ListRuns(ctx context.Context, code string, limit int) ([]TaskRun, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const taskColumns = `code, name, schedule_type, interval_seconds, daily_hour_utc, daily_minute_utc,
is_enabled, next_run_at, last_run_at, attempt_count, max_attempts, locked_at, locked_by, created_at, updated_at`

func (r *repository) EnsureTask(ctx context.Context, task Task) (bool, error) {
	tag, err := r.db.Exec(ctx, `INSERT INTO scheduled_tasks (code, name, schedule_type, interval_seconds, daily_hour_utc, daily_minute_utc, is_enabled, next_run_at, max_attempts)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7,$8)
ON CONFLICT (code) DO NOTHING`,
		task.Code, task.Name, task.Schedule.Type,
		nullableInt(task.Schedule.Type == ScheduleInterval, task.Schedule.IntervalSeconds),
		nullableInt(task.Schedule.Type == ScheduleDailyUTC, task.Schedule.DailyHourUTC),
		nullableInt(task.Schedule.Type == ScheduleDailyUTC, task.Schedule.DailyMinuteUTC),
		task.NextRunAt, task.MaxAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks
WHERE is_enabled AND next_run_at <= $1
ORDER BY next_run_at ASC
LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) { return scanTask(row) })
}

func (r *repository) GetTask(ctx context.Context, code string) (Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, shared.ErrTaskNotFound
	}
	return task, err
}

func (r *repository) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY code`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) { return scanTask(row) })
}

func (r *repository) MarkLocked(ctx context.Context, code, owner string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE scheduled_tasks SET locked_at=$2, locked_by=$3, updated_at=$2 WHERE code=$1`, code, at, owner)
	return err
}

func (r *repository) CompleteAttempt(ctx context.Context, code string, update AttemptUpdate) error {
	_, err := r.db.Exec(ctx, `UPDATE scheduled_tasks
SET attempt_count=$2,
    next_run_at=COALESCE($3, next_run_at),
    last_run_at=COALESCE($4, last_run_at),
    is_enabled=CASE WHEN $5 THEN FALSE ELSE is_enabled END,
    locked_at=NULL, locked_by=NULL, updated_at=NOW()
WHERE code=$1`, code, update.AttemptCount, update.NextRunAt, update.LastRunAt, update.Disable)
	return err
}

func (r *repository) SetEnabled(ctx context.Context, code string, enabled bool, nextRunAt *time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if enabled {
		tag, err = r.db.Exec(ctx, `UPDATE scheduled_tasks
SET is_enabled=TRUE, attempt_count=0, next_run_at=COALESCE($2, next_run_at), updated_at=NOW()
WHERE code=$1`, code, nextRunAt)
	} else {
		tag, err = r.db.Exec(ctx, `UPDATE scheduled_tasks SET is_enabled=FALSE, updated_at=NOW() WHERE code=$1`, code)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTaskNotFound
	}
	return nil
}

func (r *repository) StartRun(ctx context.Context, code, message string, at time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO scheduled_task_runs (task_code, status, message, started_at)
VALUES ($1,'running',$2,$3) RETURNING id`, code, message, at).Scan(&id)
	return id, err
}

func (r *repository) FinishRun(ctx context.Context, id int64, status RunStatus, message string, errText *string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE scheduled_task_runs SET status=$2, message=$3, error=$4, finished_at=$5 WHERE id=$1`,
		id, status, message, errText, at)
	return err
}

func (r *repository) RecordRun(ctx context.Context, run TaskRun) error {
	_, err := r.db.Exec(ctx, `INSERT INTO scheduled_task_runs (task_code, status, message, error, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6)`, run.TaskCode, run.Status, run.Message, run.Error, run.StartedAt, run.FinishedAt)
	return err
}

func (r *repository) ListRuns(ctx context.Context, code string, limit int) ([]TaskRun, error) {
	rows, err := r.db.Query(ctx, `SELECT id, task_code, status, message, error, started_at, finished_at
FROM scheduled_task_runs WHERE task_code=$1
ORDER BY started_at DESC, id DESC
LIMIT $2`, code, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TaskRun, error) {
		var run TaskRun
		err := row.Scan(&run.ID, &run.TaskCode, &run.Status, &run.Message, &run.Error, &run.StartedAt, &run.FinishedAt)
		return run, err
	})
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t        Task
		interval *int
		hour     *int
		minute   *int
	)
	err := row.Scan(&t.Code, &t.Name, &t.Schedule.Type, &interval, &hour, &minute,
		&t.IsEnabled, &t.NextRunAt, &t.LastRunAt, &t.AttemptCount, &t.MaxAttempts,
		&t.LockedAt, &t.LockedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	if interval != nil {
		t.Schedule.IntervalSeconds = *interval
	}
	if hour != nil {
		t.Schedule.DailyHourUTC = *hour
	}
	if minute != nil {
		t.Schedule.DailyMinuteUTC = *minute
	}
	return t, nil
}

func nullableInt(set bool, v int) *int {
	if !set {
		return nil
	}
	return &v
}
