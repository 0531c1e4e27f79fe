package accounts

import (
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Side names a ledger column.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side on which balances of this type grow.
func (t AccountType) NormalBalance() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Status enumerates account availability.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Account models a chart of accounts node.
type Account struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organizationId"`
	Code           string      `json:"code"`
	Name           string      `json:"name"`
	Type           AccountType `json:"type"`
	ParentID       *uuid.UUID  `json:"parentId,omitempty"`
	IsPostable     bool        `json:"isPostable"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Postable reports whether journal lines may reference the account.
func (a Account) Postable() bool {
	return a.IsPostable && a.Status == StatusActive
}

// CreateInput carries fields for a new account.
type CreateInput struct {
	OrganizationID uuid.UUID
	Code           string
	Name           string
	Type           AccountType
	ParentID       *uuid.UUID
	IsPostable     *bool
	Status         Status
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	OrganizationID uuid.UUID
	ID             uuid.UUID
	Name           *string
	ParentID       *uuid.UUID
	ClearParent    bool
	IsPostable     *bool
	Status         *Status
}
