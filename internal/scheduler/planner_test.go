package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/scheduler"
)

func hourly(next time.Time) *core.Schedule {
	return &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC",
		NextRunAt: next, CatchupPolicy: core.CatchupFireImmediately,
	}
}

// enumeration is the prefix of the cron iteration starting at the first
// instant >= next_run_at and ending at the horizon.
func TestEnumerateDueTimesPrefixLaw(t *testing.T) {
	next := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	horizon := now.Add(3 * time.Hour)

	plans, last, err := scheduler.EnumerateDueTimes(hourly(next), now, horizon, 100)
	require.NoError(t, err)
	require.Len(t, plans, 4) // 10:00 11:00 12:00 13:00
	for i, p := range plans {
		assert.Equal(t, next.Add(time.Duration(i)*time.Hour), p.RunAt)
	}
	assert.Equal(t, plans[3].RunAt, last)
}

func TestEnumerateDueTimesMaxCatchup(t *testing.T) {
	next := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	plans, last, err := scheduler.EnumerateDueTimes(hourly(next), now, now, 5)
	require.NoError(t, err)
	require.Len(t, plans, 5)
	assert.Equal(t, time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC), last)
}

func TestEnumerateDueTimesEndAt(t *testing.T) {
	s := hourly(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	end := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
	s.EndAt = &end
	now := s.NextRunAt

	plans, _, err := scheduler.EnumerateDueTimes(s, now, now.Add(5*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, plans, 2) // 10:00 and 11:00 only
}

func TestEnumerateDueTimesSpreadMonotone(t *testing.T) {
	next := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
	s := hourly(next)
	s.CatchupPolicy = core.CatchupSpread

	plans, _, err := scheduler.EnumerateDueTimes(s, now, now.Add(time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, plans, 7) // 00:00 .. 06:00

	// dispatches are spaced monotonically inside the window, none before now
	prev := now
	for _, p := range plans {
		assert.True(t, p.FireAt.After(prev), "fire %v not after %v", p.FireAt, prev)
		assert.False(t, p.FireAt.After(now.Add(time.Minute)))
		prev = p.FireAt
	}
}

// daily 02:30 in America/New_York across the 2026 spring-forward: 02:30 does
// not exist on March 8, so the IANA rules predict fires on the 7th and the
// 9th only.
func TestCronIterationRespectsDST(t *testing.T) {
	s := &core.Schedule{
		ScheduleID: "s1", CronExpr: "30 2 * * *", Timezone: "America/New_York",
	}

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	after := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	first, err := scheduler.NextAfter(s, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 7, 2, 30, 0, 0, loc).UTC(), first)

	second, err := scheduler.NextAfter(s, first)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 2, 30, 0, 0, loc).UTC(), second,
		"the 02:30 instant inside the spring-forward gap must not fire")
}

func TestPreviewStopsAtEndAt(t *testing.T) {
	s := hourly(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	end := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.EndAt = &end

	now := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	preview, err := scheduler.Preview(s, now, 5)
	require.NoError(t, err)
	assert.Len(t, preview, 3) // 10:00 11:00 12:00
}

func TestNextAfterHonorsStartAt(t *testing.T) {
	s := hourly(time.Time{})
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	s.StartAt = &start

	next, err := scheduler.NextAfter(s, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, start, next)
}
