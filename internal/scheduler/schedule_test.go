package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func TestNextRunInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextRun(Every(90*time.Second), now)
	require.NoError(t, err)
	require.Equal(t, now.Add(90*time.Second), next)
}

func TestNextRunDaily(t *testing.T) {
	s := Schedule{Type: ScheduleDailyUTC, DailyHourUTC: 0, DailyMinuteUTC: 15}

	next, err := NextRun(s, time.Date(2026, 3, 1, 0, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 15, 0, 0, time.UTC), next)

	next, err = NextRun(s, time.Date(2026, 3, 1, 0, 15, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 0, 15, 0, 0, time.UTC), next)

	next, err = NextRun(s, time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2027, 1, 1, 0, 15, 0, 0, time.UTC), next)
}

func TestNextRunRejectsBadSchedules(t *testing.T) {
	_, err := NextRun(Schedule{Type: ScheduleInterval}, time.Now())
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = NextRun(Schedule{Type: ScheduleDailyUTC, DailyHourUTC: 24}, time.Now())
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = NextRun(Schedule{Type: "cron"}, time.Now())
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBackoffTable(t *testing.T) {
	require.Equal(t, time.Minute, Backoff(1))
	require.Equal(t, 5*time.Minute, Backoff(2))
	require.Equal(t, 15*time.Minute, Backoff(3))
	require.Equal(t, 60*time.Minute, Backoff(4))
	require.Equal(t, 60*time.Minute, Backoff(9))
}

func TestDailyAt(t *testing.T) {
	s, err := DailyAt("23:30")
	require.NoError(t, err)
	require.Equal(t, Schedule{Type: ScheduleDailyUTC, DailyHourUTC: 23, DailyMinuteUTC: 30}, s)

	_, err = DailyAt("2330")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = DailyAt("25:00")
	require.ErrorIs(t, err, shared.ErrValidation)
}
