package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// DefaultMaxAttempts disables a task after this many consecutive failures.
const DefaultMaxAttempts = 5

var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// Backoff returns the retry delay after the given consecutive failure count,
// capped at the last step.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffSteps) {
		attempt = len(backoffSteps)
	}
	return backoffSteps[attempt-1]
}

// Validate checks the schedule fields for its type.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			return shared.Invalid("scheduler: interval_seconds must be positive")
		}
	case ScheduleDailyUTC:
		if s.DailyHourUTC < 0 || s.DailyHourUTC > 23 || s.DailyMinuteUTC < 0 || s.DailyMinuteUTC > 59 {
			return shared.Invalid("scheduler: daily time out of range")
		}
	default:
		return shared.Invalid(fmt.Sprintf("scheduler: unknown schedule type %q", s.Type))
	}
	return nil
}

// NextRun computes the next occurrence strictly after now.
func NextRun(s Schedule, now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	if s.Type == ScheduleInterval {
		return now.Add(time.Duration(s.IntervalSeconds) * time.Second), nil
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), s.DailyHourUTC, s.DailyMinuteUTC, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// Every builds an interval schedule.
func Every(d time.Duration) Schedule {
	return Schedule{Type: ScheduleInterval, IntervalSeconds: int(d / time.Second)}
}

// DailyAt parses an "HH:MM" UTC time of day into a daily schedule.
func DailyAt(hhmm string) (Schedule, error) {
	hour, minute, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return Schedule{}, shared.Invalid(fmt.Sprintf("scheduler: daily time %q must be HH:MM", hhmm))
	}
	h, herr := strconv.Atoi(hour)
	m, merr := strconv.Atoi(minute)
	if herr != nil || merr != nil {
		return Schedule{}, shared.Invalid(fmt.Sprintf("scheduler: daily time %q must be HH:MM", hhmm))
	}
	s := Schedule{Type: ScheduleDailyUTC, DailyHourUTC: h, DailyMinuteUTC: m}
	return s, s.Validate()
}
