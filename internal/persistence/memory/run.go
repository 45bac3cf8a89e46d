package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weave-hq/weave/internal/core"
)

// RunStore keeps runs, node executions, and join arrivals in process
// memory.
type RunStore struct {
	mu       sync.Mutex
	runs     map[string]core.Run
	execs    map[string][]core.NodeExecution // by run id
	arrivals map[string][]core.JoinArrival   // by run id
}

var _ core.RunStore = (*RunStore)(nil)

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:     map[string]core.Run{},
		execs:    map[string][]core.NodeExecution{},
		arrivals: map[string][]core.JoinArrival{},
	}
}

// CreateRun implements core.RunStore.
func (s *RunStore) CreateRun(_ context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; ok {
		return core.ErrDuplicateKey
	}
	s.runs[run.RunID] = *run
	return nil
}

// GetRun implements core.RunStore.
func (s *RunStore) GetRun(_ context.Context, runID string) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	out := run
	return &out, nil
}

// SetRunStatus implements core.RunStore. A terminal status is written at
// most once; later writes are ignored.
func (s *RunStore) SetRunStatus(_ context.Context, runID string, status core.RunStatus, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return core.ErrRunNotFound
	}
	if run.Status.Final() {
		return nil
	}
	run.Status = status
	run.FinishedAt = finishedAt
	s.runs[runID] = run
	return nil
}

// RecordNodeExecution implements core.RunStore.
func (s *RunStore) RecordNodeExecution(_ context.Context, exec *core.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs[exec.RunID] {
		if e.NodeID == exec.NodeID && e.Attempt == exec.Attempt {
			return core.ErrDuplicateKey
		}
	}
	s.execs[exec.RunID] = append(s.execs[exec.RunID], *exec)
	return nil
}

// UpdateNodeExecution implements core.RunStore; the row is keyed by
// (run_id, node_id, attempt).
func (s *RunStore) UpdateNodeExecution(_ context.Context, exec *core.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.execs[exec.RunID]
	for i := range rows {
		if rows[i].NodeID == exec.NodeID && rows[i].Attempt == exec.Attempt {
			rows[i] = *exec
			return nil
		}
	}
	return core.ErrRunNotFound
}

// ListNodeExecutions implements core.RunStore; rows come back ordered by
// (node_id, attempt).
func (s *RunStore) ListNodeExecutions(_ context.Context, runID string) ([]core.NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.NodeExecution, len(s.execs[runID]))
	copy(out, s.execs[runID])
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

// RecordJoinArrival implements core.RunStore.
func (s *RunStore) RecordJoinArrival(_ context.Context, arrival *core.JoinArrival) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrivals[arrival.RunID] = append(s.arrivals[arrival.RunID], *arrival)
	return nil
}

// ListJoinArrivals implements core.RunStore.
func (s *RunStore) ListJoinArrivals(_ context.Context, runID, joinNodeID string) ([]core.JoinArrival, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.JoinArrival
	for _, a := range s.arrivals[runID] {
		if a.JoinNodeID == joinNodeID {
			out = append(out, a)
		}
	}
	return out, nil
}
