// Package memory provides in-memory implementations of every store
// interface. They back single-process deployments and serve as injectable
// doubles in tests; the postgres and rediscache packages are the durable
// equivalents.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weave-hq/weave/internal/core"
)

// ScheduleStore keeps schedules and schedule runs in process memory.
type ScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]core.Schedule
	runs      map[string]core.ScheduleRun // by idempotency key
}

var _ core.ScheduleStore = (*ScheduleStore)(nil)

// NewScheduleStore creates an empty ScheduleStore.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{
		schedules: map[string]core.Schedule{},
		runs:      map[string]core.ScheduleRun{},
	}
}

// UpsertSchedule implements core.ScheduleStore.
func (s *ScheduleStore) UpsertSchedule(_ context.Context, sched *core.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ScheduleID] = *sched
	return nil
}

// GetSchedule implements core.ScheduleStore.
func (s *ScheduleStore) GetSchedule(_ context.Context, scheduleID string) (*core.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, core.ErrScheduleNotFound
	}
	out := sched
	return &out, nil
}

// DeleteSchedule implements core.ScheduleStore.
func (s *ScheduleStore) DeleteSchedule(_ context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[scheduleID]; !ok {
		return core.ErrScheduleNotFound
	}
	delete(s.schedules, scheduleID)
	return nil
}

// SetPaused implements core.ScheduleStore.
func (s *ScheduleStore) SetPaused(_ context.Context, scheduleID string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return core.ErrScheduleNotFound
	}
	sched.Paused = paused
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[scheduleID] = sched
	return nil
}

// SetNextRunAt implements core.ScheduleStore.
func (s *ScheduleStore) SetNextRunAt(_ context.Context, scheduleID string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return core.ErrScheduleNotFound
	}
	sched.NextRunAt = next
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[scheduleID] = sched
	return nil
}

// ListDue implements core.ScheduleStore.
func (s *ScheduleStore) ListDue(_ context.Context, now, horizon time.Time) ([]core.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Schedule
	for _, sched := range s.schedules {
		if sched.Paused {
			continue
		}
		if sched.EndAt != nil && sched.EndAt.Before(now) {
			continue
		}
		if sched.NextRunAt.After(horizon) {
			continue
		}
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out, nil
}

// InsertScheduleRun implements core.ScheduleStore.
func (s *ScheduleStore) InsertScheduleRun(_ context.Context, run *core.ScheduleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.IdempotencyKey]; ok {
		return core.ErrDuplicateKey
	}
	s.runs[run.IdempotencyKey] = *run
	return nil
}

// GetScheduleRun implements core.ScheduleStore; absence is (nil, nil).
func (s *ScheduleStore) GetScheduleRun(_ context.Context, idempotencyKey string) (*core.ScheduleRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[idempotencyKey]
	if !ok {
		return nil, nil
	}
	out := run
	return &out, nil
}

// UpdateScheduleRunStatus implements core.ScheduleStore.
func (s *ScheduleStore) UpdateScheduleRunStatus(_ context.Context, idempotencyKey string, status core.ScheduleRunStatus, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[idempotencyKey]
	if !ok {
		return core.ErrScheduleNotFound
	}
	run.Status = status
	if runID != "" {
		run.RunID = runID
	}
	run.UpdatedAt = time.Now().UTC()
	s.runs[idempotencyKey] = run
	return nil
}

// HasInflightRuns implements core.ScheduleStore.
func (s *ScheduleStore) HasInflightRuns(_ context.Context, scheduleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.ScheduleID != scheduleID {
			continue
		}
		if run.Status == core.ScheduleRunEnqueued || run.Status == core.ScheduleRunStarted {
			return true, nil
		}
	}
	return false, nil
}

// ScheduleRuns lists all runs of a schedule ordered by run_at, for tests
// and operator queries.
func (s *ScheduleStore) ScheduleRuns(scheduleID string) []core.ScheduleRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ScheduleRun
	for _, run := range s.runs {
		if run.ScheduleID == scheduleID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}
