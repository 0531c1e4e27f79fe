package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// PeriodLookup resolves periods within an organization.
type PeriodLookup interface {
	GetPeriod(ctx context.Context, orgID, id uuid.UUID) (periods.Period, error)
}

// AccountDirectory resolves accounts within an organization.
type AccountDirectory interface {
	Get(ctx context.Context, orgID, id uuid.UUID) (accounts.Account, error)
}

// Service answers balance inquiries.
type Service struct {
	repo     Repository
	periods  PeriodLookup
	accounts AccountDirectory
}

func NewService(repo Repository, periods PeriodLookup, accounts AccountDirectory) *Service {
	return &Service{repo: repo, periods: periods, accounts: accounts}
}

// TrialBalance lists every account of the organization with its totals for
// the period, including accounts that were never posted to.
func (s *Service) TrialBalance(ctx context.Context, orgID, periodID uuid.UUID) (TrialBalance, error) {
	period, err := s.periods.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return TrialBalance{}, err
	}
	balances, err := s.repo.AccountBalances(ctx, orgID, period.ID)
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(orgID, period.ID, period.Code, balances), nil
}

// ProfitAndLoss summarises revenue and expense activity posted to the period.
func (s *Service) ProfitAndLoss(ctx context.Context, orgID, periodID uuid.UUID) (ProfitAndLoss, error) {
	period, err := s.periods.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	balances, err := s.repo.AccountBalances(ctx, orgID, period.ID)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	return BuildProfitAndLoss(period.ID, period.Code, balances), nil
}

// GLBalances returns only the accounts that have a balance row in the period.
func (s *Service) GLBalances(ctx context.Context, orgID, periodID uuid.UUID) ([]GLBalance, error) {
	period, err := s.periods.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return nil, err
	}
	return s.repo.GLBalances(ctx, orgID, period.ID)
}

// AccountActivity lists posted and voided lines of one account between two
// dates, both inclusive.
func (s *Service) AccountActivity(ctx context.Context, filter ActivityFilter) ([]ActivityLine, error) {
	if filter.From.IsZero() || filter.To.IsZero() {
		return nil, shared.Invalid("ledger: from and to dates required")
	}
	filter.From = shared.DateOnly(filter.From)
	filter.To = shared.DateOnly(filter.To)
	if filter.To.Before(filter.From) {
		return nil, shared.Invalid("ledger: to date before from date")
	}
	if _, err := s.accounts.Get(ctx, filter.OrganizationID, filter.AccountID); err != nil {
		return nil, err
	}
	return s.repo.AccountActivity(ctx, filter)
}
