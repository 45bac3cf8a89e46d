package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weave-hq/weave/internal/core"
)

// ScheduleStore persists schedules and their exactly-once fire records.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

var _ core.ScheduleStore = (*ScheduleStore)(nil)

const scheduleColumns = `schedule_id, workflow_id, version, user_id, cron_expr,
	timezone, start_at, end_at, next_run_at, paused, jitter_ms,
	overlap_policy, catchup_policy, created_at, updated_at`

// UpsertSchedule inserts or replaces a schedule by id.
func (s *ScheduleStore) UpsertSchedule(ctx context.Context, sched *core.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedules
			(schedule_id, workflow_id, version, user_id, cron_expr, timezone,
			 start_at, end_at, next_run_at, paused, jitter_ms,
			 overlap_policy, catchup_policy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (schedule_id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			version = EXCLUDED.version,
			user_id = EXCLUDED.user_id,
			cron_expr = EXCLUDED.cron_expr,
			timezone = EXCLUDED.timezone,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			next_run_at = EXCLUDED.next_run_at,
			paused = EXCLUDED.paused,
			jitter_ms = EXCLUDED.jitter_ms,
			overlap_policy = EXCLUDED.overlap_policy,
			catchup_policy = EXCLUDED.catchup_policy,
			updated_at = now()`,
		sched.ScheduleID, sched.WorkflowID, sched.Version, sched.UserID,
		sched.CronExpr, sched.Timezone, sched.StartAt, sched.EndAt,
		sched.NextRunAt, sched.Paused, sched.JitterMS,
		sched.OverlapPolicy, sched.CatchupPolicy)
	return err
}

// GetSchedule fetches one schedule.
func (s *ScheduleStore) GetSchedule(ctx context.Context, scheduleID string) (*core.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE schedule_id = $1`, scheduleID)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrScheduleNotFound
	}
	return sched, err
}

// DeleteSchedule removes a schedule; its run history stays.
func (s *ScheduleStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE schedule_id = $1`, scheduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrScheduleNotFound
	}
	return nil
}

// SetPaused flips the paused flag.
func (s *ScheduleStore) SetPaused(ctx context.Context, scheduleID string, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET paused = $2, updated_at = now() WHERE schedule_id = $1`,
		scheduleID, paused)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrScheduleNotFound
	}
	return nil
}

// SetNextRunAt advances the schedule cursor.
func (s *ScheduleStore) SetNextRunAt(ctx context.Context, scheduleID string, next time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE schedules SET next_run_at = $2, updated_at = now() WHERE schedule_id = $1`,
		scheduleID, next)
	return err
}

// ListDue returns unpaused schedules due at or before the horizon whose
// end_at has not passed.
func (s *ScheduleStore) ListDue(ctx context.Context, now, horizon time.Time) ([]core.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE NOT paused AND next_run_at <= $2 AND (end_at IS NULL OR end_at >= $1)
		ORDER BY schedule_id`,
		now, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sched)
	}
	return out, rows.Err()
}

// InsertScheduleRun reserves one fire instant. A duplicate idempotency key
// surfaces as core.ErrDuplicateKey; callers rely on it for exactly-once.
func (s *ScheduleStore) InsertScheduleRun(ctx context.Context, run *core.ScheduleRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_runs (idempotency_key, schedule_id, run_at, status, run_id)
		VALUES ($1, $2, $3, $4, $5)`,
		run.IdempotencyKey, run.ScheduleID, run.RunAt, run.Status, run.RunID)
	if isDuplicate(err) {
		return core.ErrDuplicateKey
	}
	return err
}

// GetScheduleRun fetches one fire record, or (nil, nil) when absent.
func (s *ScheduleStore) GetScheduleRun(ctx context.Context, idempotencyKey string) (*core.ScheduleRun, error) {
	var run core.ScheduleRun
	err := s.pool.QueryRow(ctx, `
		SELECT idempotency_key, schedule_id, run_at, status, run_id, created_at, updated_at
		FROM schedule_runs WHERE idempotency_key = $1`,
		idempotencyKey).Scan(&run.IdempotencyKey, &run.ScheduleID, &run.RunAt,
		&run.Status, &run.RunID, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateScheduleRunStatus transitions one fire record. An empty run id
// preserves the stored one.
func (s *ScheduleStore) UpdateScheduleRunStatus(ctx context.Context, idempotencyKey string, status core.ScheduleRunStatus, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE schedule_runs
		SET status = $2,
		    run_id = CASE WHEN $3 = '' THEN run_id ELSE $3 END,
		    updated_at = now()
		WHERE idempotency_key = $1`,
		idempotencyKey, status, runID)
	return err
}

// HasInflightRuns reports whether any fire of the schedule is still
// ENQUEUED or STARTED.
func (s *ScheduleStore) HasInflightRuns(ctx context.Context, scheduleID string) (bool, error) {
	var inflight bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedule_runs
			WHERE schedule_id = $1 AND status IN ('ENQUEUED', 'STARTED')
		)`, scheduleID).Scan(&inflight)
	return inflight, err
}

func scanSchedule(row pgx.Row) (*core.Schedule, error) {
	var sched core.Schedule
	err := row.Scan(&sched.ScheduleID, &sched.WorkflowID, &sched.Version,
		&sched.UserID, &sched.CronExpr, &sched.Timezone, &sched.StartAt,
		&sched.EndAt, &sched.NextRunAt, &sched.Paused, &sched.JitterMS,
		&sched.OverlapPolicy, &sched.CatchupPolicy, &sched.CreatedAt,
		&sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}
