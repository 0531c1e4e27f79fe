package accruals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// RuleType classifies how an accrual behaves after posting.
type RuleType string

const (
	RuleTypeReversing RuleType = "REVERSING"
	RuleTypeRecurring RuleType = "RECURRING"
	RuleTypeDeferral  RuleType = "DEFERRAL"
	RuleTypeDerived   RuleType = "DERIVED"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeReversing, RuleTypeRecurring, RuleTypeDeferral, RuleTypeDerived:
		return true
	}
	return false
}

// Frequency controls when a rule is due.
type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyPeriodEnd Frequency = "PERIOD_END"
	FrequencyOnDemand  Frequency = "ON_DEMAND"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyPeriodEnd, FrequencyOnDemand:
		return true
	}
	return false
}

// ReverseTiming is the only supported reversal schedule.
type ReverseTiming string

const ReverseTimingNextPeriodStart ReverseTiming = "NEXT_PERIOD_START"

// RuleStatus toggles whether batch runners pick up a rule.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
)

// RunStatus tracks one execution of a rule for a period and date.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusPosted   RunStatus = "posted"
	RunStatusFailed   RunStatus = "failed"
	RunStatusReversed RunStatus = "reversed"
	RunStatusSkipped  RunStatus = "skipped"
)

// Terminal reports whether a run must not be executed again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusPosted || s == RunStatusReversed || s == RunStatusSkipped
}

// Rule is a journal template posted on a schedule.
type Rule struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organizationId"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	RuleType       RuleType       `json:"ruleType"`
	Frequency      Frequency      `json:"frequency"`
	AutoReverse    bool           `json:"autoReverse"`
	ReverseTiming  *ReverseTiming `json:"reverseTiming,omitempty"`
	StartDate      *time.Time     `json:"startDate,omitempty"`
	EndDate        *time.Time     `json:"endDate,omitempty"`
	Status         RuleStatus     `json:"status"`
	IsRequired     bool           `json:"isRequired"`
	CreatedBy      *uuid.UUID     `json:"createdBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Lines          []RuleLine     `json:"lines,omitempty"`
}

// RuleLine is one fixed-amount template line.
type RuleLine struct {
	ID          uuid.UUID       `json:"id"`
	RuleID      uuid.UUID       `json:"ruleId"`
	LineNo      int             `json:"lineNo"`
	AccountID   uuid.UUID       `json:"accountId"`
	Side        accounts.Side   `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// RuleLineInput describes a requested template line.
type RuleLineInput struct {
	LineNo      int
	AccountID   uuid.UUID
	Side        accounts.Side
	Amount      decimal.Decimal
	Description string
}

// CreateRuleInput groups fields for CreateRule.
type CreateRuleInput struct {
	OrganizationID uuid.UUID
	ActorID        uuid.UUID
	Code           string
	Name           string
	RuleType       RuleType
	Frequency      Frequency
	AutoReverse    bool
	ReverseTiming  *ReverseTiming
	StartDate      *time.Time
	EndDate        *time.Time
	Status         RuleStatus
	IsRequired     bool
	Lines          []RuleLineInput
}

// Run is one execution record, joined with its rule and posting linkage.
type Run struct {
	ID                     uuid.UUID  `json:"id"`
	OrganizationID         uuid.UUID  `json:"organizationId"`
	RuleID                 uuid.UUID  `json:"ruleId"`
	PeriodID               uuid.UUID  `json:"periodId"`
	AsOfDate               time.Time  `json:"asOfDate"`
	Status                 RunStatus  `json:"status"`
	Error                  *string    `json:"error,omitempty"`
	StartedAt              time.Time  `json:"startedAt"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
	CreatedBy              *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	RuleCode               string     `json:"ruleCode,omitempty"`
	RuleName               string     `json:"ruleName,omitempty"`
	RuleType               RuleType   `json:"ruleType,omitempty"`
	Frequency              Frequency  `json:"frequency,omitempty"`
	JournalEntryID         *uuid.UUID `json:"journalEntryId,omitempty"`
	ReversalJournalEntryID *uuid.UUID `json:"reversalJournalEntryId,omitempty"`
	ReversalFailureReason  *string    `json:"reversalFailureReason,omitempty"`
	ReversalFailureCount   int        `json:"reversalFailureCount"`
}

// RunOneInput selects the rule and date to execute.
type RunOneInput struct {
	OrganizationID   uuid.UUID
	ActorID          uuid.UUID
	RuleID           uuid.UUID
	AsOfDate         time.Time
	PeriodIDOverride *uuid.UUID
}

// RunResult reports the outcome of one rule execution.
type RunResult struct {
	RuleID    uuid.UUID  `json:"ruleId"`
	AsOfDate  time.Time  `json:"asOfDate"`
	Skipped   bool       `json:"skipped"`
	Reason    string     `json:"reason,omitempty"`
	RunID     *uuid.UUID `json:"runId,omitempty"`
	Status    RunStatus  `json:"status,omitempty"`
	JournalID *uuid.UUID `json:"journalId,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// PeriodEndInput selects the period whose PERIOD_END rules run.
type PeriodEndInput struct {
	OrganizationID   uuid.UUID
	ActorID          uuid.UUID
	PeriodID         uuid.UUID
	AsOfDateOverride *time.Time
}

// ReversalResult counts a reversal batch.
type ReversalResult struct {
	ReversedCount int `json:"reversedCount"`
	FailedCount   int `json:"failedCount"`
}

// ReversalCandidate is a posted run awaiting its reversal.
type ReversalCandidate struct {
	RunID          uuid.UUID
	AsOfDate       time.Time
	PeriodID       uuid.UUID
	RuleCode       string
	JournalEntryID uuid.UUID
}

// RunFilter narrows run listings.
type RunFilter struct {
	OrganizationID uuid.UUID
	RuleID         *uuid.UUID
	PeriodID       *uuid.UUID
	Status         RunStatus
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// JobKind names an accrual operation that can run in the background.
type JobKind string

const (
	JobRunOne    JobKind = "run_one"
	JobRunDue    JobKind = "run_due"
	JobPeriodEnd JobKind = "period_end"
	JobReversals JobKind = "reversals"
)

// AsyncJob is a queued accrual operation.
type AsyncJob struct {
	Kind           JobKind    `json:"kind"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	ActorID        uuid.UUID  `json:"actorId"`
	RuleID         *uuid.UUID `json:"ruleId,omitempty"`
	PeriodID       *uuid.UUID `json:"periodId,omitempty"`
	AsOfDate       *time.Time `json:"asOfDate,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
}

// Validate checks that the job carries the arguments its kind needs.
func (j AsyncJob) Validate() error {
	if j.OrganizationID == uuid.Nil {
		return shared.Invalid("accruals: job organization required")
	}
	switch j.Kind {
	case JobRunOne:
		if j.RuleID == nil || j.AsOfDate == nil {
			return shared.Invalid("accruals: run_one requires ruleId and asOfDate")
		}
	case JobRunDue:
		if j.AsOfDate == nil {
			return shared.Invalid("accruals: run_due requires asOfDate")
		}
	case JobPeriodEnd, JobReversals:
		if j.PeriodID == nil {
			return shared.Invalid(fmt.Sprintf("accruals: %s requires periodId", j.Kind))
		}
	default:
		return shared.Invalid(fmt.Sprintf("accruals: unknown job kind %q", j.Kind))
	}
	return nil
}
