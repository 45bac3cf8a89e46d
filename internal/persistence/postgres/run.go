package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weave-hq/weave/internal/core"
)

// RunStore persists runs, per-attempt node executions, and join arrivals.
type RunStore struct {
	pool *pgxpool.Pool
}

var _ core.RunStore = (*RunStore)(nil)

// CreateRun inserts one run row.
func (s *RunStore) CreateRun(ctx context.Context, run *core.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs
			(run_id, workflow_id, version, user_id, status, source,
			 started_at, finished_at, trigger_digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.RunID, run.WorkflowID, run.Version, run.UserID, run.Status,
		run.Source, run.StartedAt, run.FinishedAt, run.TriggerDigest)
	if isDuplicate(err) {
		return core.ErrDuplicateKey
	}
	return err
}

// GetRun fetches one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*core.Run, error) {
	var run core.Run
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, workflow_id, version, user_id, status, source,
		       started_at, finished_at, trigger_digest
		FROM runs WHERE run_id = $1`,
		runID).Scan(&run.RunID, &run.WorkflowID, &run.Version, &run.UserID,
		&run.Status, &run.Source, &run.StartedAt, &run.FinishedAt,
		&run.TriggerDigest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SetRunStatus moves a run to a terminal status. A run already terminal
// stays as it is, so finalization is once-only even across takeovers.
func (s *RunStore) SetRunStatus(ctx context.Context, runID string, status core.RunStatus, finishedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $2, finished_at = $3
		WHERE run_id = $1 AND status = 'RUNNING'`,
		runID, status, finishedAt)
	return err
}

// RecordNodeExecution inserts one attempt row.
func (s *RunStore) RecordNodeExecution(ctx context.Context, exec *core.NodeExecution) error {
	output, err := marshalOutput(exec.Output)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO node_executions
			(run_id, node_id, attempt, status, output, error,
			 started_at, finished_at, idem_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exec.RunID, exec.NodeID, exec.Attempt, exec.Status, output,
		exec.Error, exec.StartedAt, exec.FinishedAt, exec.IdemKey)
	if isDuplicate(err) {
		return core.ErrDuplicateKey
	}
	return err
}

// UpdateNodeExecution rewrites the mutable fields of one attempt row.
func (s *RunStore) UpdateNodeExecution(ctx context.Context, exec *core.NodeExecution) error {
	output, err := marshalOutput(exec.Output)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE node_executions
		SET status = $4, output = $5, error = $6, finished_at = $7
		WHERE run_id = $1 AND node_id = $2 AND attempt = $3`,
		exec.RunID, exec.NodeID, exec.Attempt, exec.Status, output,
		exec.Error, exec.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrRunNotFound
	}
	return nil
}

// ListNodeExecutions returns all attempt rows of a run ordered by
// (node_id, attempt).
func (s *RunStore) ListNodeExecutions(ctx context.Context, runID string) ([]core.NodeExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, node_id, attempt, status, output, error,
		       started_at, finished_at, idem_key
		FROM node_executions WHERE run_id = $1
		ORDER BY node_id, attempt`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.NodeExecution
	for rows.Next() {
		var exec core.NodeExecution
		var output []byte
		if err := rows.Scan(&exec.RunID, &exec.NodeID, &exec.Attempt,
			&exec.Status, &output, &exec.Error, &exec.StartedAt,
			&exec.FinishedAt, &exec.IdemKey); err != nil {
			return nil, err
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &exec.Output); err != nil {
				return nil, err
			}
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// RecordJoinArrival notes one incoming edge completion at a join. Repeat
// arrivals from the same predecessor are idempotent.
func (s *RunStore) RecordJoinArrival(ctx context.Context, arrival *core.JoinArrival) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO join_arrivals (run_id, join_node_id, from_node_id, arrived_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, join_node_id, from_node_id) DO NOTHING`,
		arrival.RunID, arrival.JoinNodeID, arrival.FromNodeID, arrival.ArrivedAt)
	return err
}

// ListJoinArrivals returns the arrivals at one join in arrival order.
func (s *RunStore) ListJoinArrivals(ctx context.Context, runID, joinNodeID string) ([]core.JoinArrival, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, join_node_id, from_node_id, arrived_at
		FROM join_arrivals WHERE run_id = $1 AND join_node_id = $2
		ORDER BY arrived_at, from_node_id`,
		runID, joinNodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.JoinArrival
	for rows.Next() {
		var a core.JoinArrival
		if err := rows.Scan(&a.RunID, &a.JoinNodeID, &a.FromNodeID, &a.ArrivedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func marshalOutput(output map[string]any) ([]byte, error) {
	if output == nil {
		return nil, nil
	}
	return json.Marshal(output)
}
