package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type memoryRepo struct {
	accounts map[uuid.UUID]Account
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[uuid.UUID]Account)}
}

func (r *memoryRepo) List(_ context.Context, orgID uuid.UUID) ([]Account, error) {
	var out []Account
	for _, a := range r.accounts {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) Get(_ context.Context, orgID, id uuid.UUID) (Account, error) {
	a, ok := r.accounts[id]
	if !ok || a.OrganizationID != orgID {
		return Account{}, shared.ErrAccountNotFound
	}
	return a, nil
}

func (r *memoryRepo) Insert(_ context.Context, a Account) error {
	for _, existing := range r.accounts {
		if existing.OrganizationID == a.OrganizationID && existing.Code == a.Code {
			return shared.ErrAccountCodeTaken
		}
	}
	r.accounts[a.ID] = a
	return nil
}

func (r *memoryRepo) Update(_ context.Context, a Account) error {
	if _, ok := r.accounts[a.ID]; !ok {
		return shared.ErrAccountNotFound
	}
	r.accounts[a.ID] = a
	return nil
}

func TestCreateAccountDefaults(t *testing.T) {
	svc := NewService(newMemoryRepo())
	fixed := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return fixed })
	org := uuid.New()

	cash, err := svc.Create(context.Background(), CreateInput{OrganizationID: org, Code: " 1000 ", Name: "Cash", Type: AccountTypeAsset})
	require.NoError(t, err)
	require.Equal(t, "1000", cash.Code)
	require.True(t, cash.Postable())
	require.Equal(t, StatusActive, cash.Status)
	require.Equal(t, fixed, cash.CreatedAt)
	require.Equal(t, SideDebit, cash.Type.NormalBalance())
	require.Equal(t, SideCredit, AccountTypeRevenue.NormalBalance())

	_, err = svc.Create(context.Background(), CreateInput{OrganizationID: org, Code: "1000", Name: "Dup", Type: AccountTypeAsset})
	require.ErrorIs(t, err, shared.ErrAccountCodeTaken)
}

func TestCreateAccountRejectsForeignParent(t *testing.T) {
	svc := NewService(newMemoryRepo())
	orgA, orgB := uuid.New(), uuid.New()
	parent, err := svc.Create(context.Background(), CreateInput{OrganizationID: orgA, Code: "1", Name: "Assets", Type: AccountTypeAsset})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{OrganizationID: orgB, Code: "1100", Name: "Bank", Type: AccountTypeAsset, ParentID: &parent.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), CreateInput{OrganizationID: orgA, Code: "1100", Name: "Bank", Type: "CASHFLOW"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateAccountDeactivates(t *testing.T) {
	svc := NewService(newMemoryRepo())
	org := uuid.New()
	acc, err := svc.Create(context.Background(), CreateInput{OrganizationID: org, Code: "4000", Name: "Revenue", Type: AccountTypeRevenue})
	require.NoError(t, err)

	inactive := StatusInactive
	updated, err := svc.Update(context.Background(), UpdateInput{OrganizationID: org, ID: acc.ID, Status: &inactive})
	require.NoError(t, err)
	require.False(t, updated.Postable())

	_, err = svc.Update(context.Background(), UpdateInput{OrganizationID: org, ID: acc.ID, ParentID: &acc.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
}
