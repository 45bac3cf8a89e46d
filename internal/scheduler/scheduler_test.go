package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/persistence/memory"
	"github.com/weave-hq/weave/internal/scheduler"
)

func testConfig() config.Scheduler {
	return config.Scheduler{
		TickInterval:      time.Second,
		Lookahead:         time.Minute,
		MaxCatchupPerTick: 100,
		DefaultOverlap:    "allow",
		DefaultCatchup:    "none",
		LockStaleAfter:    30 * time.Second,
	}
}

type dispatchRecorder struct {
	mu    sync.Mutex
	calls []time.Time
	fail  error
}

func (d *dispatchRecorder) dispatch(_ context.Context, _ *core.Schedule, runAt time.Time, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return "", d.fail
	}
	d.calls = append(d.calls, runAt)
	return "run-" + runAt.Format(time.RFC3339), nil
}

func (d *dispatchRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func fixedClock(t time.Time) core.Clock {
	return func() time.Time { return t }
}

func newScheduled(t *testing.T, store *memory.ScheduleStore, sched *core.Schedule) {
	t.Helper()
	require.NoError(t, store.UpsertSchedule(context.Background(), sched))
}

func TestUpsertScheduleComputesNextRun(t *testing.T) {
	store := memory.NewScheduleStore()
	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	s := scheduler.New(store, nil, testConfig(), scheduler.WithClock(fixedClock(now)))

	sched, err := s.UpsertSchedule(context.Background(), &core.Schedule{
		WorkflowID: "wf-1", Version: "1", UserID: "u1",
		CronExpr: "0 * * * *", Timezone: "UTC",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ScheduleID)
	assert.Equal(t, time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC), sched.NextRunAt)
	assert.Equal(t, core.OverlapAllow, sched.OverlapPolicy)
	assert.Equal(t, core.CatchupNone, sched.CatchupPolicy)
}

func TestUpsertScheduleRejectsBadCron(t *testing.T) {
	s := scheduler.New(memory.NewScheduleStore(), nil, testConfig())

	_, err := s.UpsertSchedule(context.Background(), &core.Schedule{CronExpr: "bogus", Timezone: "UTC"})
	assert.ErrorIs(t, err, core.ErrCronInvalid)

	_, err = s.UpsertSchedule(context.Background(), &core.Schedule{CronExpr: "0 * * * *", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, core.ErrTzInvalid)
}

func TestTickEmitsDueSchedule(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{}
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(now)),
		scheduler.WithJitterFunc(func(time.Duration) time.Duration { return 0 }),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC",
		NextRunAt: now, OverlapPolicy: core.OverlapAllow, CatchupPolicy: core.CatchupNone,
	})

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 1, rec.count())

	runs := store.ScheduleRuns("s1")
	require.Len(t, runs, 1)
	assert.Equal(t, core.ScheduleRunEnqueued, runs[0].Status)
	assert.Equal(t, now, runs[0].RunAt)
	assert.NotEmpty(t, runs[0].RunID)

	// next_run_at advanced to the following hour
	sched, err := store.GetSchedule(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), sched.NextRunAt)

	// a second tick at the same instant emits nothing new
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 1, rec.count())
	assert.Len(t, store.ScheduleRuns("s1"), 1)
}

// worker down three hours with catchup none: the missed instants are
// dropped, only future instants fire.
func TestCatchupNoneDropsMissedInstants(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{}
	wake := time.Date(2026, 8, 24, 13, 5, 0, 0, time.UTC)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(wake)),
		scheduler.WithJitterFunc(func(time.Duration) time.Duration { return 0 }),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC",
		NextRunAt:     time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		OverlapPolicy: core.OverlapAllow, CatchupPolicy: core.CatchupNone,
	})

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 0, rec.count())
	assert.Empty(t, store.ScheduleRuns("s1"))

	sched, err := store.GetSchedule(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC), sched.NextRunAt)
}

func TestCatchupFireImmediately(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{}
	wake := time.Date(2026, 8, 24, 13, 5, 0, 0, time.UTC)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(wake)),
		scheduler.WithJitterFunc(func(time.Duration) time.Duration { return 0 }),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC",
		NextRunAt:     time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		OverlapPolicy: core.OverlapAllow, CatchupPolicy: core.CatchupFireImmediately,
	})

	require.NoError(t, s.Tick(context.Background()))
	// 10:00 through 13:00 all fire now
	assert.Equal(t, 4, rec.count())
	assert.Len(t, store.ScheduleRuns("s1"), 4)
}

// a prior run still in flight at the next minute: the instant is recorded
// SKIPPED and the executor is not called.
func TestOverlapSkip(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{}
	now := time.Date(2026, 8, 24, 11, 1, 0, 0, time.UTC)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(now)),
		scheduler.WithJitterFunc(func(time.Duration) time.Duration { return 0 }),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "*/1 * * * *", Timezone: "UTC",
		NextRunAt:     now,
		OverlapPolicy: core.OverlapSkip, CatchupPolicy: core.CatchupNone,
	})

	// simulate a prior run still in flight
	prior := now.Add(-time.Minute)
	require.NoError(t, store.InsertScheduleRun(context.Background(), &core.ScheduleRun{
		IdempotencyKey: core.ScheduleIdempotencyKey("s1", prior),
		ScheduleID:     "s1", RunAt: prior, Status: core.ScheduleRunEnqueued,
	}))

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 0, rec.count())

	runs := store.ScheduleRuns("s1")
	require.NotEmpty(t, runs)
	assert.Equal(t, core.ScheduleRunSkipped, runs[1].Status)
	assert.Equal(t, now, runs[1].RunAt)
}

func TestOverlapQueueDefers(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{}
	now := time.Date(2026, 8, 24, 11, 1, 0, 0, time.UTC)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(now)),
		scheduler.WithJitterFunc(func(time.Duration) time.Duration { return 0 }),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "*/1 * * * *", Timezone: "UTC",
		NextRunAt:     now,
		OverlapPolicy: core.OverlapQueue, CatchupPolicy: core.CatchupFireImmediately,
	})

	prior := now.Add(-time.Minute)
	require.NoError(t, store.InsertScheduleRun(context.Background(), &core.ScheduleRun{
		IdempotencyKey: core.ScheduleIdempotencyKey("s1", prior),
		ScheduleID:     "s1", RunAt: prior, Status: core.ScheduleRunStarted,
	}))

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 0, rec.count())

	// next_run_at stays at the deferred instant
	sched, err := store.GetSchedule(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, now, sched.NextRunAt)
}

func TestEnqueueFailureRecordsFailed(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{fail: errors.New("executor unavailable")}
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(now)),
		scheduler.WithJitterFunc(func(time.Duration) time.Duration { return 0 }),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC",
		NextRunAt:     now,
		OverlapPolicy: core.OverlapAllow, CatchupPolicy: core.CatchupNone,
	})

	require.NoError(t, s.Tick(context.Background()))
	runs := store.ScheduleRuns("s1")
	require.Len(t, runs, 1)
	assert.Equal(t, core.ScheduleRunFailed, runs[0].Status)
}

func TestLeaderLeaseSkipsNonLeader(t *testing.T) {
	store := memory.NewScheduleStore()
	rec := &dispatchRecorder{}
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)

	registry := memory.NewLeaseRegistry()
	leader := memory.NewLease(registry)
	require.NoError(t, leader.Acquire(context.Background(), "scheduler/leader", time.Minute))

	follower := memory.NewLease(registry)
	s := scheduler.New(store, rec.dispatch, testConfig(),
		scheduler.WithClock(fixedClock(now)),
		scheduler.WithLease(follower),
	)

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC",
		NextRunAt:     now,
		OverlapPolicy: core.OverlapAllow, CatchupPolicy: core.CatchupNone,
	})

	// follower does not scan while the leader holds the lease
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 0, rec.count())
	assert.Empty(t, store.ScheduleRuns("s1"))
}

func TestGetSchedulePreview(t *testing.T) {
	store := memory.NewScheduleStore()
	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	s := scheduler.New(store, nil, testConfig(), scheduler.WithClock(fixedClock(now)))

	newScheduled(t, store, &core.Schedule{
		ScheduleID: "s1", CronExpr: "0 * * * *", Timezone: "UTC", NextRunAt: now,
	})

	_, preview, err := s.GetSchedule(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, preview, 5)
	for i, p := range preview {
		assert.Equal(t, time.Date(2026, 8, 24, 11+i, 0, 0, 0, time.UTC), p)
	}
}
