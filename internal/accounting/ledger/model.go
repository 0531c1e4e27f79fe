package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// AccountBalance is one account's totals for a period. Accounts without a
// balance row carry zero totals.
type AccountBalance struct {
	AccountID     uuid.UUID            `json:"accountId"`
	Code          string               `json:"code"`
	Name          string               `json:"name"`
	Type          accounts.AccountType `json:"type"`
	NormalBalance accounts.Side        `json:"normalBalance"`
	DebitTotal    decimal.Decimal      `json:"debitTotal"`
	CreditTotal   decimal.Decimal      `json:"creditTotal"`
}

// Net returns debit minus credit.
func (a AccountBalance) Net() decimal.Decimal {
	return a.DebitTotal.Sub(a.CreditTotal)
}

// GroupKey returns the prefix used to group trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// TrialBalanceRow represents a row inside a trial balance group.
type TrialBalanceRow struct {
	AccountID     uuid.UUID            `json:"accountId"`
	Code          string               `json:"code"`
	Name          string               `json:"name"`
	Type          accounts.AccountType `json:"type"`
	NormalBalance accounts.Side        `json:"normalBalance"`
	DebitTotal    decimal.Decimal      `json:"debitTotal"`
	CreditTotal   decimal.Decimal      `json:"creditTotal"`
	Net           decimal.Decimal      `json:"netDebitMinusCredit"`
}

// TrialBalanceGroup aggregates rows sharing a code prefix.
type TrialBalanceGroup struct {
	Key         string            `json:"key"`
	Rows        []TrialBalanceRow `json:"rows"`
	DebitTotal  decimal.Decimal   `json:"debitTotal"`
	CreditTotal decimal.Decimal   `json:"creditTotal"`
}

// TrialBalance lists every account of an organization for one period.
type TrialBalance struct {
	OrganizationID uuid.UUID           `json:"organizationId"`
	PeriodID       uuid.UUID           `json:"periodId"`
	PeriodCode     string              `json:"periodCode"`
	Groups         []TrialBalanceGroup `json:"groups"`
	TotalDebit     decimal.Decimal     `json:"totalDebit"`
	TotalCredit    decimal.Decimal     `json:"totalCredit"`
	Balanced       bool                `json:"balanced"`
}

// Rows flattens the groups in code order.
func (tb TrialBalance) Rows() []TrialBalanceRow {
	var out []TrialBalanceRow
	for _, g := range tb.Groups {
		out = append(out, g.Rows...)
	}
	return out
}

// GLBalance is a stored balance row joined with its account.
type GLBalance struct {
	AccountID   uuid.UUID       `json:"accountId"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	DebitTotal  decimal.Decimal `json:"debitTotal"`
	CreditTotal decimal.Decimal `json:"creditTotal"`
}

// ActivityLine is one journal line touching an account.
type ActivityLine struct {
	JournalID   uuid.UUID       `json:"journalId"`
	Number      int64           `json:"number"`
	EntryDate   time.Time       `json:"entryDate"`
	Status      string          `json:"status"`
	LineNo      int             `json:"lineNo"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// ActivityFilter narrows account activity to an inclusive date range.
type ActivityFilter struct {
	OrganizationID uuid.UUID
	AccountID      uuid.UUID
	From           time.Time
	To             time.Time
}
