// Package scheduler keeps time for schedule-based triggers: it scans due
// schedules on a fixed tick, applies catchup and overlap policies, and hands
// activations to the executor exactly once per planned instant.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weave-hq/weave/internal/cmn/backoff"
	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/cmn/logger/tag"
	"github.com/weave-hq/weave/internal/core"
)

// leaderKey guards the tick scan when multiple instances run.
const leaderKey = "scheduler/leader"

// enqueueAttempts bounds how often a failed executor hand-off is retried
// within one instant.
const enqueueAttempts = 3

// DispatchFunc hands one activation to the executor and returns the created
// run id.
type DispatchFunc func(ctx context.Context, s *core.Schedule, runAt time.Time, idemKey string) (string, error)

// Scheduler drives the tick loop.
type Scheduler struct {
	store    core.ScheduleStore
	dispatch DispatchFunc
	cfg      config.Scheduler
	clock    core.Clock
	lease    core.Lease
	jitter   func(max time.Duration) time.Duration

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(clock core.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLease enables leader election across instances.
func WithLease(lease core.Lease) Option {
	return func(s *Scheduler) { s.lease = lease }
}

// WithJitterFunc replaces the jitter source, for tests.
func WithJitterFunc(fn func(max time.Duration) time.Duration) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

// New creates a Scheduler.
func New(store core.ScheduleStore, dispatch DispatchFunc, cfg config.Scheduler, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		dispatch: dispatch,
		cfg:      cfg,
		clock:    time.Now,
		jitter:   uniformJitter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(2*max)+1)) - max
}

// Start runs the tick loop until the context is canceled, then waits for
// in-flight dispatches.
func (s *Scheduler) Start(ctx context.Context) error {
	logger.Info(ctx, "Scheduler started",
		tag.Interval(s.cfg.TickInterval),
		tag.Lookahead(s.cfg.Lookahead),
	)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info(ctx, "Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "Tick failed", tag.Error(err))
			}
		}
	}
}

// Tick runs one scan. Exported so operators and tests can drive the loop
// manually.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.lease != nil {
		err := s.lease.Acquire(ctx, leaderKey, s.cfg.LockStaleAfter)
		if errors.Is(err, core.ErrLeaseHeld) {
			logger.Debug(ctx, "Not the leader, skipping tick")
			return nil
		}
		if err != nil {
			return err
		}
	}

	now := s.clock().UTC()
	horizon := now.Add(s.cfg.Lookahead)
	due, err := s.store.ListDue(ctx, now, horizon)
	if err != nil {
		return err
	}

	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.processSchedule(ctx, &due[i], now, horizon); err != nil {
			logger.Error(ctx, "Schedule scan failed",
				tag.Schedule(due[i].ScheduleID), tag.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) processSchedule(ctx context.Context, sched *core.Schedule, now, horizon time.Time) error {
	plans, lastConsidered, err := EnumerateDueTimes(sched, now, horizon, s.cfg.MaxCatchupPerTick)
	if err != nil {
		return err
	}
	if lastConsidered.IsZero() {
		return nil
	}

	for _, p := range plans {
		idem := core.ScheduleIdempotencyKey(sched.ScheduleID, p.RunAt)

		existing, err := s.store.GetScheduleRun(ctx, idem)
		if err != nil && !errors.Is(err, core.ErrScheduleNotFound) {
			return err
		}
		if existing != nil {
			continue
		}

		switch sched.OverlapPolicy {
		case core.OverlapSkip:
			inflight, err := s.store.HasInflightRuns(ctx, sched.ScheduleID)
			if err != nil {
				return err
			}
			if inflight {
				if err := s.insertRun(ctx, sched, p.RunAt, idem, core.ScheduleRunSkipped); err != nil && !errors.Is(err, core.ErrDuplicateKey) {
					return err
				}
				logger.Info(ctx, "Overlap skip", tag.Schedule(sched.ScheduleID), tag.RunAt(p.RunAt))
				continue
			}
		case core.OverlapQueue:
			inflight, err := s.store.HasInflightRuns(ctx, sched.ScheduleID)
			if err != nil {
				return err
			}
			if inflight {
				// defer this and every later instant to a future tick
				logger.Info(ctx, "Overlap queue, deferring", tag.Schedule(sched.ScheduleID), tag.RunAt(p.RunAt))
				return s.store.SetNextRunAt(ctx, sched.ScheduleID, p.RunAt)
			}
		}

		// reserving the row first is the exactly-once guard; a crash after
		// this point sacrifices the instant rather than double-firing it
		if err := s.insertRun(ctx, sched, p.RunAt, idem, core.ScheduleRunEnqueued); err != nil {
			if errors.Is(err, core.ErrDuplicateKey) {
				continue
			}
			return err
		}

		fireAt := p.FireAt.Add(s.jitter(s.jitterFor(sched)))
		if fireAt.After(now) {
			s.fireLater(ctx, sched, p.RunAt, idem, fireAt.Sub(now))
		} else {
			s.emit(ctx, sched, p.RunAt, idem)
		}
	}

	next, err := NextAfter(sched, lastConsidered)
	if err != nil {
		return err
	}
	if next.IsZero() {
		return nil
	}
	return s.store.SetNextRunAt(ctx, sched.ScheduleID, next)
}

func (s *Scheduler) jitterFor(sched *core.Schedule) time.Duration {
	if sched.JitterMS > 0 {
		return time.Duration(sched.JitterMS) * time.Millisecond
	}
	return s.cfg.DefaultJitter
}

func (s *Scheduler) insertRun(ctx context.Context, sched *core.Schedule, runAt time.Time, idem string, status core.ScheduleRunStatus) error {
	now := s.clock().UTC()
	return s.store.InsertScheduleRun(ctx, &core.ScheduleRun{
		IdempotencyKey: idem,
		ScheduleID:     sched.ScheduleID,
		RunAt:          runAt,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// fireLater arms an in-process timer for an instant inside the lookahead
// window but still in the future.
func (s *Scheduler) fireLater(ctx context.Context, sched *core.Schedule, runAt time.Time, idem string, delay time.Duration) {
	schedCopy := *sched
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			s.emit(ctx, &schedCopy, runAt, idem)
		}
	}()
}

// emit hands one activation to the executor, retrying transient rejections
// with bounded backoff.
func (s *Scheduler) emit(ctx context.Context, sched *core.Schedule, runAt time.Time, idem string) {
	var runID string
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var dispatchErr error
		runID, dispatchErr = s.dispatch(ctx, sched, runAt, idem)
		return dispatchErr
	}, backoff.NewExponentialBackoffPolicy(500*time.Millisecond, enqueueAttempts-1), nil)

	if err != nil {
		logger.Error(ctx, "Enqueue failed",
			tag.Schedule(sched.ScheduleID), tag.RunAt(runAt), tag.Error(err))
		if uerr := s.store.UpdateScheduleRunStatus(ctx, idem, core.ScheduleRunFailed, ""); uerr != nil {
			logger.Error(ctx, "Failed to record enqueue failure", tag.IdemKey(idem), tag.Error(uerr))
		}
		return
	}

	logger.Info(ctx, "Run enqueued",
		tag.Schedule(sched.ScheduleID), tag.RunAt(runAt), tag.RunID(runID))
	if err := s.store.UpdateScheduleRunStatus(ctx, idem, core.ScheduleRunEnqueued, runID); err != nil {
		logger.Error(ctx, "Failed to record run id", tag.IdemKey(idem), tag.Error(err))
	}
}

// UpsertSchedule validates and stores a schedule, precomputing next_run_at.
func (s *Scheduler) UpsertSchedule(ctx context.Context, sched *core.Schedule) (*core.Schedule, error) {
	if _, err := core.ParseCron(sched.CronExpr, sched.Timezone); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if sched.ScheduleID == "" {
		sched.ScheduleID = uuid.NewString()
		sched.CreatedAt = now
	}
	if sched.OverlapPolicy == "" {
		sched.OverlapPolicy = core.OverlapPolicy(s.cfg.DefaultOverlap)
	}
	if sched.CatchupPolicy == "" {
		sched.CatchupPolicy = core.CatchupPolicy(s.cfg.DefaultCatchup)
	}
	next, err := NextAfter(sched, now)
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = next
	sched.UpdatedAt = now
	if err := s.store.UpsertSchedule(ctx, sched); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Schedule upserted",
		tag.Schedule(sched.ScheduleID), tag.Workflow(sched.WorkflowID), tag.RunAt(next))
	return sched, nil
}

// PauseSchedule flips the paused flag.
func (s *Scheduler) PauseSchedule(ctx context.Context, scheduleID string, paused bool) error {
	return s.store.SetPaused(ctx, scheduleID, paused)
}

// DeleteSchedule removes a schedule; its schedule_runs history remains.
func (s *Scheduler) DeleteSchedule(ctx context.Context, scheduleID string) error {
	return s.store.DeleteSchedule(ctx, scheduleID)
}

// GetSchedule returns a schedule plus a preview of its next five fire
// times.
func (s *Scheduler) GetSchedule(ctx context.Context, scheduleID string) (*core.Schedule, []time.Time, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, nil, err
	}
	preview, err := Preview(sched, s.clock().UTC(), 5)
	if err != nil {
		return nil, nil, err
	}
	return sched, preview, nil
}
