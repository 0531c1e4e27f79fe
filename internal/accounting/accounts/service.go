package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Account, error) {
	return s.repo.List(ctx, orgID)
}

// Get doubles as the account directory lookup used by the accrual runner.
func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (Account, error) {
	return s.repo.Get(ctx, orgID, id)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return Account{}, shared.Invalid("accounting: account code and name required")
	}
	if !in.Type.Valid() {
		return Account{}, shared.Invalid(fmt.Sprintf("accounting: unknown account type %q", in.Type))
	}
	status := in.Status
	if status == "" {
		status = StatusActive
	}
	if status != StatusActive && status != StatusInactive {
		return Account{}, shared.Invalid(fmt.Sprintf("accounting: unknown account status %q", status))
	}
	if in.ParentID != nil {
		if err := s.ensureParent(ctx, in.OrganizationID, uuid.Nil, *in.ParentID); err != nil {
			return Account{}, err
		}
	}
	postable := true
	if in.IsPostable != nil {
		postable = *in.IsPostable
	}
	now := s.now().UTC()
	account := Account{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		Code:           code,
		Name:           name,
		Type:           in.Type,
		ParentID:       in.ParentID,
		IsPostable:     postable,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *Service) Update(ctx context.Context, in UpdateInput) (Account, error) {
	account, err := s.repo.Get(ctx, in.OrganizationID, in.ID)
	if err != nil {
		return Account{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Account{}, shared.Invalid("accounting: account name required")
		}
		account.Name = name
	}
	switch {
	case in.ClearParent:
		account.ParentID = nil
	case in.ParentID != nil:
		if err := s.ensureParent(ctx, in.OrganizationID, account.ID, *in.ParentID); err != nil {
			return Account{}, err
		}
		account.ParentID = in.ParentID
	}
	if in.IsPostable != nil {
		account.IsPostable = *in.IsPostable
	}
	if in.Status != nil {
		if *in.Status != StatusActive && *in.Status != StatusInactive {
			return Account{}, shared.Invalid(fmt.Sprintf("accounting: unknown account status %q", *in.Status))
		}
		account.Status = *in.Status
	}
	account.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// ensureParent only checks existence in the org; deeper cycles are not walked.
func (s *Service) ensureParent(ctx context.Context, orgID, self, parentID uuid.UUID) error {
	if parentID == self {
		return shared.Invalid("accounting: account cannot be its own parent")
	}
	if _, err := s.repo.Get(ctx, orgID, parentID); err != nil {
		if errors.Is(err, shared.ErrAccountNotFound) {
			return shared.Invalid("accounting: parent account not found")
		}
		return err
	}
	return nil
}
