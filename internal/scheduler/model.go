package scheduler

import (
	"context"
	"time"
)

// ScheduleType selects how the next occurrence of a task is computed.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval_seconds"
	ScheduleDailyUTC ScheduleType = "daily_at_utc"
)

// Schedule is the persisted recurrence of a task.
type Schedule struct {
	Type            ScheduleType `json:"type"`
	IntervalSeconds int          `json:"intervalSeconds,omitempty"`
	DailyHourUTC    int          `json:"dailyHourUtc,omitempty"`
	DailyMinuteUTC  int          `json:"dailyMinuteUtc,omitempty"`
}

// Task is the persisted state of one scheduled task.
type Task struct {
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Schedule     Schedule   `json:"schedule"`
	IsEnabled    bool       `json:"isEnabled"`
	NextRunAt    time.Time  `json:"nextRunAt"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	AttemptCount int        `json:"attemptCount"`
	MaxAttempts  int        `json:"maxAttempts"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	LockedBy     *string    `json:"lockedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RunStatus is the outcome of one task attempt.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// TaskRun records one attempt.
type TaskRun struct {
	ID         int64      `json:"id"`
	TaskCode   string     `json:"taskCode"`
	Status     RunStatus  `json:"status"`
	Message    *string    `json:"message,omitempty"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Outcome is what a handler reports on success.
type Outcome struct {
	Skipped bool
	Message string
}

// TaskFunc executes a task. A returned error marks the attempt failed.
type TaskFunc func(ctx context.Context, task Task) (Outcome, error)

// Definition binds a task code to its default schedule and handler.
type Definition struct {
	Code     string
	Name     string
	Schedule Schedule
	Handler  TaskFunc
}

// AttemptUpdate is the schedule state written after an attempt.
type AttemptUpdate struct {
	AttemptCount int
	NextRunAt    *time.Time
	LastRunAt    *time.Time
	Disable      bool
}
