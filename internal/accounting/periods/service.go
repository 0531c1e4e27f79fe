package periods

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// AccrualChecker is the optional accrual capability consulted on close. When
// the Service has none, accrual guards and the period-end auto-run are skipped.
type AccrualChecker interface {
	RunPeriodEndAccruals(ctx context.Context, orgID, actorID, periodID uuid.UUID) error
}

type Service struct {
	repo     Repository
	accruals AccrualChecker
	now      func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAccrualChecker installs the accrual capability.
func (s *Service) WithAccrualChecker(checker AccrualChecker) {
	s.accruals = checker
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Period, error) {
	return s.repo.List(ctx, orgID)
}

func (s *Service) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return s.repo.Get(ctx, orgID, id)
}

// FindOpenPeriodForDate fails with ErrNoOpenPeriod when no open period covers date.
func (s *Service) FindOpenPeriodForDate(ctx context.Context, orgID uuid.UUID, date time.Time) (Period, error) {
	return s.repo.FindOpenPeriodForDate(ctx, orgID, shared.DateOnly(date))
}

// ListOpenEndingOn returns open periods whose last day is date.
func (s *Service) ListOpenEndingOn(ctx context.Context, orgID uuid.UUID, date time.Time) ([]Period, error) {
	return s.repo.ListOpenEndingOn(ctx, orgID, shared.DateOnly(date))
}

func (s *Service) CreatePeriod(ctx context.Context, in CreateInput) (Period, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Period{}, shared.Invalid("accounting: period code required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return Period{}, shared.Invalid("accounting: period start and end dates required")
	}
	start, end := shared.DateOnly(in.StartDate), shared.DateOnly(in.EndDate)
	if end.Before(start) {
		return Period{}, shared.Invalid("accounting: period end date before start date")
	}
	now := s.now().UTC()
	period := Period{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		Code:           code,
		StartDate:      start,
		EndDate:        end,
		Status:         PeriodStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, period); err != nil {
		return Period{}, err
	}
	return period, nil
}

// ClosePeriod runs the close guards under the period row lock. With an
// accrual checker and auto-run enabled the lock is released while period-end
// accruals post, then re-acquired and every guard is evaluated again.
func (s *Service) ClosePeriod(ctx context.Context, in CloseInput) (Period, error) {
	autoRun := in.AutoRunAccruals == nil || *in.AutoRunAccruals
	if s.accruals != nil && autoRun {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			period, err := tx.GetPeriodForUpdate(ctx, in.OrganizationID, in.PeriodID)
			if err != nil {
				return err
			}
			return s.checkOpenAndDrafts(ctx, tx, period)
		})
		if err != nil {
			return Period{}, err
		}
		if err := s.accruals.RunPeriodEndAccruals(ctx, in.OrganizationID, in.ActorID, in.PeriodID); err != nil {
			return Period{}, fmt.Errorf("accounting: period-end accruals: %w", err)
		}
	}

	var closed Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.OrganizationID, in.PeriodID)
		if err != nil {
			return err
		}
		if err := s.checkOpenAndDrafts(ctx, tx, period); err != nil {
			return err
		}
		if s.accruals != nil {
			missing, err := tx.ListMissingRequiredAccruals(ctx, in.OrganizationID, in.PeriodID)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: %s", shared.ErrMissingRequiredAccruals, ruleCodes(missing))
			}
			failed, err := tx.CountFailedAccrualRuns(ctx, in.OrganizationID, in.PeriodID)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d failed run(s)", shared.ErrFailedAccrualRuns, failed)
			}
		}
		now := s.now().UTC()
		actor := in.ActorID
		period.Status = PeriodStatusClosed
		period.ClosedAt = &now
		period.ClosedBy = &actor
		period.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, period); err != nil {
			return err
		}
		closed = period
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	return closed, nil
}

// ReopenPeriod is an administrative override with no guard beyond the state check.
func (s *Service) ReopenPeriod(ctx context.Context, orgID, periodID uuid.UUID) (Period, error) {
	var reopened Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, orgID, periodID)
		if err != nil {
			return err
		}
		if period.Status != PeriodStatusClosed {
			return shared.ErrPeriodNotClosed
		}
		period.Status = PeriodStatusOpen
		period.ClosedAt = nil
		period.ClosedBy = nil
		period.UpdatedAt = s.now().UTC()
		if err := tx.UpdateStatus(ctx, period); err != nil {
			return err
		}
		reopened = period
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	return reopened, nil
}

// ClosePreview evaluates every close guard without locking or mutating. It
// does not run period-end accruals, so missing required accruals may still be
// satisfied by an auto-running close.
func (s *Service) ClosePreview(ctx context.Context, orgID, periodID uuid.UUID) (ClosePreview, error) {
	var preview ClosePreview
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriod(ctx, orgID, periodID)
		if err != nil {
			return err
		}
		preview.Period = period
		preview.Blockers = []Blocker{}
		if !period.IsOpen() {
			preview.Blockers = append(preview.Blockers, Blocker{Code: BlockerNotOpen, Message: shared.ErrPeriodNotOpen.Error()})
		}
		drafts, err := tx.CountDraftJournals(ctx, orgID, periodID)
		if err != nil {
			return err
		}
		if drafts > 0 {
			preview.Blockers = append(preview.Blockers, Blocker{Code: BlockerOpenDrafts, Message: shared.ErrOpenDrafts.Error(), Count: drafts})
		}
		if s.accruals != nil {
			missing, err := tx.ListMissingRequiredAccruals(ctx, orgID, periodID)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				preview.Blockers = append(preview.Blockers, Blocker{Code: BlockerMissingRequiredAccruals, Message: shared.ErrMissingRequiredAccruals.Error(), Count: len(missing), Accruals: missing})
			}
			failed, err := tx.CountFailedAccrualRuns(ctx, orgID, periodID)
			if err != nil {
				return err
			}
			if failed > 0 {
				preview.Blockers = append(preview.Blockers, Blocker{Code: BlockerFailedAccrualRuns, Message: shared.ErrFailedAccrualRuns.Error(), Count: failed})
			}
		}
		preview.CanClose = len(preview.Blockers) == 0
		return nil
	})
	if err != nil {
		return ClosePreview{}, err
	}
	return preview, nil
}

func (s *Service) checkOpenAndDrafts(ctx context.Context, tx TxRepository, period Period) error {
	if !period.IsOpen() {
		return shared.ErrPeriodNotOpen
	}
	drafts, err := tx.CountDraftJournals(ctx, period.OrganizationID, period.ID)
	if err != nil {
		return err
	}
	if drafts > 0 {
		return fmt.Errorf("%w: %d draft(s)", shared.ErrOpenDrafts, drafts)
	}
	return nil
}

func ruleCodes(missing []MissingAccrual) string {
	codes := make([]string, 0, len(missing))
	for _, m := range missing {
		codes = append(codes, m.Code)
	}
	return strings.Join(codes, ", ")
}
