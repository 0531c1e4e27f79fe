package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const ymd = "2006-01-02"

// AccrualRunLockKey names the serialization lock for one accrual run tuple.
func AccrualRunLockKey(orgID, ruleID, periodID uuid.UUID, asOf time.Time) string {
	return fmt.Sprintf("accrual_run:%s:%s:%s:%s", orgID, ruleID, periodID, asOf.UTC().Format(ymd))
}

// ScheduledTaskLockKey names the lease held while a scheduled task executes.
func ScheduledTaskLockKey(code string) string {
	return "scheduled_task:" + code
}

// AccrualPostingKey is the journal idempotency key of an accrual posting.
func AccrualPostingKey(ruleID, periodID uuid.UUID, asOf time.Time) string {
	return fmt.Sprintf("accrual:post:%s:%s:%s", ruleID, periodID, asOf.UTC().Format(ymd))
}

// AccrualReversalKey is the journal idempotency key of an accrual reversal.
func AccrualReversalKey(runID, targetPeriodID uuid.UUID) string {
	return fmt.Sprintf("accrual:reverse:%s:%s", runID, targetPeriodID)
}
