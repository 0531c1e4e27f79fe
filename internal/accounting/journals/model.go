package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalType classifies an entry.
type JournalType string

const (
	JournalTypeGeneral    JournalType = "GENERAL"
	JournalTypeAdjustment JournalType = "ADJUSTMENT"
	JournalTypeClosing    JournalType = "CLOSING"
)

// Valid reports whether t is a known journal type.
func (t JournalType) Valid() bool {
	return t == JournalTypeGeneral || t == JournalTypeAdjustment || t == JournalTypeClosing
}

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "draft"
	JournalStatusPosted JournalStatus = "posted"
	JournalStatusVoided JournalStatus = "voided"
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID             uuid.UUID     `json:"id"`
	OrganizationID uuid.UUID     `json:"organizationId"`
	Number         int64         `json:"number"`
	Type           JournalType   `json:"type"`
	PeriodID       uuid.UUID     `json:"periodId"`
	EntryDate      time.Time     `json:"entryDate"`
	Memo           string        `json:"memo"`
	Status         JournalStatus `json:"status"`
	IdempotencyKey *string       `json:"idempotencyKey,omitempty"`
	ReversalOfID   *uuid.UUID    `json:"reversalOfId,omitempty"`
	ReversedByID   *uuid.UUID    `json:"reversedById,omitempty"`
	VoidReason     *string       `json:"voidReason,omitempty"`
	CreatedBy      uuid.UUID     `json:"createdBy"`
	PostedBy       *uuid.UUID    `json:"postedBy,omitempty"`
	PostedAt       *time.Time    `json:"postedAt,omitempty"`
	VoidedBy       *uuid.UUID    `json:"voidedBy,omitempty"`
	VoidedAt       *time.Time    `json:"voidedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Lines          []JournalLine `json:"lines,omitempty"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID          uuid.UUID       `json:"id"`
	JournalID   uuid.UUID       `json:"journalId"`
	LineNo      int             `json:"lineNo"`
	AccountID   uuid.UUID       `json:"accountId"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// LineInput describes one requested line.
type LineInput struct {
	AccountID   uuid.UUID
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// CreateDraftInput groups fields required to create a draft entry.
type CreateDraftInput struct {
	OrganizationID uuid.UUID
	ActorID        uuid.UUID
	PeriodID       uuid.UUID
	EntryDate      time.Time
	Type           JournalType
	Memo           string
	IdempotencyKey string
	Lines          []LineInput
}

// CreateDraftResult reports the created (or replayed) entry.
type CreateDraftResult struct {
	JournalID  uuid.UUID     `json:"journalId"`
	Status     JournalStatus `json:"status"`
	Idempotent bool          `json:"idempotent,omitempty"`
}

// PostResult reports a posted entry.
type PostResult struct {
	JournalID uuid.UUID     `json:"journalId"`
	Status    JournalStatus `json:"status"`
}

// VoidInput wraps parameters for voiding.
type VoidInput struct {
	OrganizationID uuid.UUID
	JournalID      uuid.UUID
	ActorID        uuid.UUID
	Reason         string
}

// VoidResult reports a voided entry and its reversal.
type VoidResult struct {
	JournalID         uuid.UUID     `json:"journalId"`
	Status            JournalStatus `json:"status"`
	ReversalJournalID uuid.UUID     `json:"reversalJournalId"`
}

// ReverseInput wraps parameters for reversing a posted entry into another
// open period while the original stays posted.
type ReverseInput struct {
	OrganizationID uuid.UUID
	JournalID      uuid.UUID
	ActorID        uuid.UUID
	TargetPeriodID uuid.UUID
	EntryDate      time.Time
	Reason         string
	IdempotencyKey string
}

// ReverseResult reports the reversal entry.
type ReverseResult struct {
	JournalID         uuid.UUID `json:"journalId"`
	ReversalJournalID uuid.UUID `json:"reversalJournalId"`
	Idempotent        bool      `json:"idempotent,omitempty"`
}

// ListFilter narrows journal listings.
type ListFilter struct {
	OrganizationID uuid.UUID
	PeriodID       *uuid.UUID
	Status         JournalStatus
	Limit          int
	Offset         int
}
