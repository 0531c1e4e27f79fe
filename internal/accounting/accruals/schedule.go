package accruals

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// WithinBounds reports whether asOf falls inside the rule's optional
// start and end dates, both inclusive.
func WithinBounds(rule Rule, asOf time.Time) bool {
	if rule.StartDate != nil && asOf.Before(shared.DateOnly(*rule.StartDate)) {
		return false
	}
	if rule.EndDate != nil && asOf.After(shared.DateOnly(*rule.EndDate)) {
		return false
	}
	return true
}

// IsDue evaluates calendar due-ness for DAILY, WEEKLY and MONTHLY rules.
// WEEKLY anchors on the start date's weekday (Monday without one). MONTHLY
// anchors on the start date's day of month (the 1st without one), clamped to
// the last day of short months.
func IsDue(rule Rule, asOf time.Time) bool {
	asOf = shared.DateOnly(asOf)
	if !WithinBounds(rule, asOf) {
		return false
	}
	switch rule.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		anchor := time.Monday
		if rule.StartDate != nil {
			anchor = rule.StartDate.UTC().Weekday()
		}
		return asOf.Weekday() == anchor
	case FrequencyMonthly:
		anchorDay := 1
		if rule.StartDate != nil {
			anchorDay = rule.StartDate.UTC().Day()
		}
		dueDay := min(anchorDay, lastDayOfMonth(asOf))
		return asOf.Day() == dueDay
	}
	return false
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
