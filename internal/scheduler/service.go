package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 200
)

// Service exposes task administration.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) ListTasks(ctx context.Context) ([]Task, error) {
	return s.repo.ListTasks(ctx)
}

// SetEnabled toggles a task. Enabling resets the failure counter and
// schedules the next occurrence from now.
func (s *Service) SetEnabled(ctx context.Context, code string, enabled bool) (Task, error) {
	code = strings.TrimSpace(code)
	task, err := s.repo.GetTask(ctx, code)
	if err != nil {
		return Task{}, err
	}
	var next *time.Time
	if enabled {
		n, err := NextRun(task.Schedule, s.now())
		if err != nil {
			return Task{}, err
		}
		next = &n
	}
	if err := s.repo.SetEnabled(ctx, code, enabled, next); err != nil {
		return Task{}, err
	}
	return s.repo.GetTask(ctx, code)
}

// ListRuns returns recent attempts of a task, newest first.
func (s *Service) ListRuns(ctx context.Context, code string, limit int) ([]TaskRun, error) {
	if strings.TrimSpace(code) == "" {
		return nil, shared.Invalid("scheduler: task code required")
	}
	if _, err := s.repo.GetTask(ctx, code); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	return s.repo.ListRuns(ctx, code, limit)
}
