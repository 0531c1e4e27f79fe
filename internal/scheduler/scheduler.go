// Package scheduler runs persisted, poll-driven background tasks. Every
// process polls the shared task table; a named lease per task code keeps a
// task from running twice at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 5
	noHandlerMessage    = "No handler registered"
)

// Config tunes the poll loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	InstanceID   string
}

// Scheduler executes due tasks from the registry.
type Scheduler struct {
	repo     Repository
	locker   lock.Locker
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	cfg      Config
	handlers map[string]Definition
	now      func() time.Time
}

func New(repo Repository, locker lock.Locker, cfg Config, metrics *jobmetrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	return &Scheduler{
		repo:     repo,
		locker:   locker,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "scheduler")),
		cfg:      cfg,
		handlers: make(map[string]Definition),
		now:      time.Now,
	}
}

// WithNow overrides the clock.
func (s *Scheduler) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register adds task definitions. Codes must be unique.
func (s *Scheduler) Register(defs ...Definition) error {
	for _, def := range defs {
		if def.Code == "" || def.Handler == nil {
			return shared.Invalid("scheduler: task code and handler required")
		}
		if err := def.Schedule.Validate(); err != nil {
			return fmt.Errorf("task %s: %w", def.Code, err)
		}
		if _, dup := s.handlers[def.Code]; dup {
			return shared.Invalid(fmt.Sprintf("scheduler: task %s registered twice", def.Code))
		}
		s.handlers[def.Code] = def
	}
	return nil
}

// Codes lists registered task codes in order.
func (s *Scheduler) Codes() []string {
	codes := make([]string, 0, len(s.handlers))
	for code := range s.handlers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Ensure creates a persisted row for every registered task that lacks one.
func (s *Scheduler) Ensure(ctx context.Context) error {
	now := s.now().UTC()
	for _, code := range s.Codes() {
		def := s.handlers[code]
		next, err := NextRun(def.Schedule, now)
		if err != nil {
			return err
		}
		created, err := s.repo.EnsureTask(ctx, Task{
			Code:        def.Code,
			Name:        def.Name,
			Schedule:    def.Schedule,
			IsEnabled:   true,
			NextRunAt:   next,
			MaxAttempts: s.cfg.MaxAttempts,
		})
		if err != nil {
			return fmt.Errorf("ensure task %s: %w", code, err)
		}
		if created {
			s.logger.Info("scheduled task created", slog.String("task", code), slog.Time("next_run_at", next))
		}
	}
	return nil
}

// Run ensures the task rows, ticks immediately and then on every poll
// interval until ctx is cancelled. Tick failures are logged, never returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Ensure(ctx); err != nil {
		return err
	}
	s.logger.Info("scheduler started",
		slog.String("instance", s.cfg.InstanceID),
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("tasks", len(s.handlers)))
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick executes up to one batch of due tasks, soonest first, and reports how
// many ran.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	due, err := s.repo.DueTasks(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load due tasks: %w", err)
	}
	ran := 0
	for _, task := range due {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		executed, err := s.execute(ctx, task)
		if err != nil {
			s.logger.Error("scheduled task bookkeeping failed", slog.String("task", task.Code), slog.Any("error", err))
			continue
		}
		if executed {
			ran++
		}
	}
	return ran, nil
}

func (s *Scheduler) execute(ctx context.Context, task Task) (bool, error) {
	def, ok := s.handlers[task.Code]
	if !ok {
		return false, s.disableUnknown(ctx, task)
	}

	lease, ok, err := s.locker.TryAcquire(ctx, internalShared.ScheduledTaskLockKey(task.Code))
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Debug("scheduled task held elsewhere", slog.String("task", task.Code))
		return false, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release task lease", slog.String("task", task.Code), slog.Any("error", err))
		}
	}()

	// Another instance may have finished the task between the due query and
	// the lease.
	current, err := s.repo.GetTask(ctx, task.Code)
	if err != nil {
		return false, err
	}
	startedAt := s.now().UTC()
	if !current.IsEnabled || current.NextRunAt.After(startedAt) {
		return false, nil
	}

	if err := s.repo.MarkLocked(ctx, current.Code, s.cfg.InstanceID, startedAt); err != nil {
		return false, err
	}
	runID, err := s.repo.StartRun(ctx, current.Code, "Started by "+s.cfg.InstanceID, startedAt)
	if err != nil {
		return false, err
	}
	s.logger.Info("scheduled task started", slog.String("task", current.Code), slog.Int("attempt", current.AttemptCount+1))

	tracker := s.metrics.Track(current.Code)
	outcome, runErr := s.invoke(ctx, def, current)

	finishedAt := s.now().UTC()
	status := RunStatusSuccess
	message := outcome.Message
	var errText *string
	update := AttemptUpdate{LastRunAt: &finishedAt}
	switch {
	case runErr != nil:
		status = RunStatusFailed
		message = "Task failed"
		text := runErr.Error()
		errText = &text
		tracker.End(runErr)
		update = s.failureUpdate(current, finishedAt, runErr)
	case outcome.Skipped:
		status = RunStatusSkipped
		if message == "" {
			message = "Skipped"
		}
		tracker.Skip()
		s.logger.Info("scheduled task skipped", slog.String("task", current.Code), slog.String("reason", message))
	default:
		if message == "" {
			message = "OK"
		}
		tracker.End(nil)
		s.logger.Info("scheduled task finished", slog.String("task", current.Code), slog.String("message", message))
	}
	if status != RunStatusFailed {
		next, err := NextRun(current.Schedule, finishedAt)
		if err != nil {
			return true, err
		}
		update.NextRunAt = &next
	}

	bookkeeping := context.WithoutCancel(ctx)
	return true, errors.Join(
		s.repo.CompleteAttempt(bookkeeping, current.Code, update),
		s.repo.FinishRun(bookkeeping, runID, status, message, errText, finishedAt),
	)
}

func (s *Scheduler) failureUpdate(task Task, at time.Time, runErr error) AttemptUpdate {
	attempts := task.AttemptCount + 1
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	if attempts >= maxAttempts {
		s.logger.Error("scheduled task disabled after repeated failures",
			slog.String("task", task.Code),
			slog.Int("attempts", attempts),
			slog.Any("error", fmt.Errorf("%w: %w", shared.ErrTaskExecution, runErr)))
		s.metrics.TaskDisabled(task.Code, "max_attempts")
		return AttemptUpdate{AttemptCount: attempts, Disable: true}
	}
	next := at.Add(Backoff(attempts))
	s.logger.Warn("scheduled task failed",
		slog.String("task", task.Code),
		slog.Int("attempts", attempts),
		slog.Time("retry_at", next),
		slog.Any("error", fmt.Errorf("%w: %w", shared.ErrTaskExecution, runErr)))
	return AttemptUpdate{AttemptCount: attempts, NextRunAt: &next}
}

// invoke converts handler panics into failures so the loop survives them.
func (s *Scheduler) invoke(ctx context.Context, def Definition, task Task) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return def.Handler(ctx, task)
}

func (s *Scheduler) disableUnknown(ctx context.Context, task Task) error {
	s.logger.Warn("scheduled task has no handler; disabling", slog.String("task", task.Code))
	s.metrics.TaskDisabled(task.Code, "no_handler")
	now := s.now().UTC()
	message := noHandlerMessage
	return errors.Join(
		s.repo.SetEnabled(ctx, task.Code, false, nil),
		s.repo.RecordRun(ctx, TaskRun{
			TaskCode:   task.Code,
			Status:     RunStatusFailed,
			Message:    &message,
			StartedAt:  now,
			FinishedAt: &now,
		}),
	)
}
