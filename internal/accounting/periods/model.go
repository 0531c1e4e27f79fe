package periods

import (
	"time"

	"github.com/google/uuid"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "open"
	PeriodStatusClosed PeriodStatus = "closed"
)

// Period represents a fiscal period window. Both bounds are inclusive dates.
type Period struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organizationId"`
	Code           string       `json:"code"`
	StartDate      time.Time    `json:"startDate"`
	EndDate        time.Time    `json:"endDate"`
	Status         PeriodStatus `json:"status"`
	ClosedAt       *time.Time   `json:"closedAt,omitempty"`
	ClosedBy       *uuid.UUID   `json:"closedBy,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Contains reports whether date falls within the period.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// IsOpen reports whether postings are accepted.
func (p Period) IsOpen() bool {
	return p.Status == PeriodStatusOpen
}

// CreateInput carries fields for a new period.
type CreateInput struct {
	OrganizationID uuid.UUID
	Code           string
	StartDate      time.Time
	EndDate        time.Time
}

// CloseInput carries a close request. AutoRunAccruals defaults to true.
type CloseInput struct {
	OrganizationID  uuid.UUID
	PeriodID        uuid.UUID
	ActorID         uuid.UUID
	AutoRunAccruals *bool
}

// MissingAccrual names a required period-end rule without a posted run.
type MissingAccrual struct {
	RuleID uuid.UUID `json:"ruleId"`
	Code   string    `json:"code"`
	Name   string    `json:"name"`
}

// BlockerCode identifies why a period cannot close.
type BlockerCode string

const (
	BlockerNotOpen                 BlockerCode = "NOT_OPEN"
	BlockerOpenDrafts              BlockerCode = "OPEN_DRAFTS"
	BlockerMissingRequiredAccruals BlockerCode = "MISSING_REQUIRED_ACCRUALS"
	BlockerFailedAccrualRuns       BlockerCode = "FAILED_ACCRUAL_RUNS"
)

// Blocker describes one failing close guard.
type Blocker struct {
	Code     BlockerCode      `json:"code"`
	Message  string           `json:"message"`
	Count    int              `json:"count,omitempty"`
	Accruals []MissingAccrual `json:"accruals,omitempty"`
}

// ClosePreview is the read-only evaluation of the close guards.
type ClosePreview struct {
	Period   Period    `json:"period"`
	CanClose bool      `json:"canClose"`
	Blockers []Blocker `json:"blockers"`
}
