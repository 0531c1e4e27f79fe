package shared

import "errors"

// Kind sentinels classify every accounting failure. Domain errors unwrap to
// exactly one of them so transports can map them without knowing the details.
var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrTaskExecution         = errors.New("task execution failed")
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = kinded(ErrValidation, "accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = kinded(ErrValidation, "accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a line that is not exactly one positive side.
	ErrInvalidLine = kinded(ErrValidation, "accounting: line must carry exactly one positive debit or credit")
	// ErrInvalidAccount indicates a missing, inactive or non-postable account.
	ErrInvalidAccount = kinded(ErrValidation, "accounting: account is not active and postable")
	// ErrPeriodNotOpen indicates a posting against a closed period.
	ErrPeriodNotOpen = kinded(ErrConflict, "accounting: period is not open")
	// ErrDateOutOfRange indicates journal date mismatch.
	ErrDateOutOfRange = kinded(ErrValidation, "accounting: date outside period")
	// ErrPeriodOverlap indicates the new period intersects an existing one.
	ErrPeriodOverlap = kinded(ErrConflict, "accounting: period overlaps an existing period")
	// ErrPeriodCodeTaken indicates a duplicate period code.
	ErrPeriodCodeTaken = kinded(ErrConflict, "accounting: period code already exists")
	// ErrOpenDrafts blocks a close while drafts remain.
	ErrOpenDrafts = kinded(ErrConflict, "accounting: period has draft journals")
	// ErrMissingRequiredAccruals blocks a close while required rules have not posted.
	ErrMissingRequiredAccruals = kinded(ErrConflict, "accounting: required accruals missing")
	// ErrFailedAccrualRuns blocks a close while failed runs remain.
	ErrFailedAccrualRuns = kinded(ErrConflict, "accounting: failed accrual runs")
	// ErrPeriodNotClosed indicates a reopen of a period that is already open.
	ErrPeriodNotClosed = kinded(ErrConflict, "accounting: period is not closed")
	// ErrNotDraft indicates a post of a non-draft journal.
	ErrNotDraft = kinded(ErrConflict, "accounting: journal is not a draft")
	// ErrNotPosted indicates a void or reversal of a journal that is not posted.
	ErrNotPosted = kinded(ErrConflict, "accounting: journal is not posted")
	// ErrAlreadyReversed indicates a journal that already has a reversal.
	ErrAlreadyReversed = kinded(ErrConflict, "accounting: journal already reversed")
	// ErrAccountCodeTaken indicates a duplicate account code.
	ErrAccountCodeTaken = kinded(ErrConflict, "accounting: account code already exists")
	// ErrRuleCodeTaken indicates a duplicate accrual rule code.
	ErrRuleCodeTaken = kinded(ErrConflict, "accounting: accrual rule code already exists")
	// ErrPeriodNotFound indicates missing period.
	ErrPeriodNotFound = kinded(ErrNotFound, "accounting: period not found")
	// ErrNoOpenPeriod indicates no open period covers a date.
	ErrNoOpenPeriod = kinded(ErrNotFound, "accounting: no open period for date")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = kinded(ErrNotFound, "accounting: journal entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = kinded(ErrNotFound, "accounting: account not found")
	// ErrRuleNotFound indicates missing accrual rule.
	ErrRuleNotFound = kinded(ErrNotFound, "accounting: accrual rule not found")
	// ErrRunNotFound indicates missing accrual run.
	ErrRunNotFound = kinded(ErrNotFound, "accounting: accrual run not found")
	// ErrTaskNotFound indicates missing scheduled task.
	ErrTaskNotFound = kinded(ErrNotFound, "scheduler: task not found")
	// ErrJournalIncomplete indicates a posted journal without lines.
	ErrJournalIncomplete = kinded(ErrInternalInconsistency, "accounting: journal has no lines")
)

// Kind names the transport-facing class of an error.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindInternalInconsistency Kind = "internal_inconsistency"
	KindTaskExecution         Kind = "task_execution"
	KindUnknown               Kind = "unknown"
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func kinded(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Invalid builds an ad-hoc validation error.
func Invalid(msg string) error {
	return kinded(ErrValidation, msg)
}

// Inconsistent builds an ad-hoc internal inconsistency error.
func Inconsistent(msg string) error {
	return kinded(ErrInternalInconsistency, msg)
}

// KindOf reports which class err belongs to.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInternalInconsistency):
		return KindInternalInconsistency
	case errors.Is(err, ErrTaskExecution):
		return KindTaskExecution
	default:
		return KindUnknown
	}
}
