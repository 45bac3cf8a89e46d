package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// OverlapPolicy controls what happens when a fire time arrives while a prior
// run of the same schedule is still in flight.
type OverlapPolicy string

const (
	OverlapAllow OverlapPolicy = "allow"
	OverlapSkip  OverlapPolicy = "skip"
	OverlapQueue OverlapPolicy = "queue"
)

// CatchupPolicy controls how fire times that fell during downtime are
// handled.
type CatchupPolicy string

const (
	CatchupNone            CatchupPolicy = "none"
	CatchupFireImmediately CatchupPolicy = "fire_immediately"
	CatchupSpread          CatchupPolicy = "spread"
)

// ScheduleRunStatus is the lifecycle status of one planned schedule instant.
type ScheduleRunStatus string

const (
	ScheduleRunEnqueued ScheduleRunStatus = "ENQUEUED"
	ScheduleRunStarted  ScheduleRunStatus = "STARTED"
	ScheduleRunSuccess  ScheduleRunStatus = "SUCCESS"
	ScheduleRunFailed   ScheduleRunStatus = "FAILED"
	ScheduleRunSkipped  ScheduleRunStatus = "SKIPPED"
)

var (
	// ErrCronInvalid indicates a cron expression that does not parse.
	ErrCronInvalid = errors.New("invalid cron expression")
	// ErrTzInvalid indicates an unknown IANA timezone name.
	ErrTzInvalid = errors.New("invalid timezone")
)

// Schedule binds a cron expression to a workflow version.
type Schedule struct {
	ScheduleID    string        `json:"schedule_id"`
	WorkflowID    string        `json:"workflow_id"`
	Version       string        `json:"version"`
	UserID        string        `json:"user_id"`
	CronExpr      string        `json:"cron_expr"`
	Timezone      string        `json:"timezone"`
	StartAt       *time.Time    `json:"start_at,omitempty"`
	EndAt         *time.Time    `json:"end_at,omitempty"`
	NextRunAt     time.Time     `json:"next_run_at"`
	Paused        bool          `json:"paused"`
	JitterMS      int           `json:"jitter_ms"`
	OverlapPolicy OverlapPolicy `json:"overlap_policy"`
	CatchupPolicy CatchupPolicy `json:"catchup_policy"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ScheduleRun is the exactly-once record for one planned fire instant.
type ScheduleRun struct {
	IdempotencyKey string            `json:"idempotency_key"`
	ScheduleID     string            `json:"schedule_id"`
	RunAt          time.Time         `json:"run_at"`
	Status         ScheduleRunStatus `json:"status"`
	RunID          string            `json:"run_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ScheduleIdempotencyKey derives the sole exactly-once guard for a planned
// fire instant: sha256(schedule_id || ":" || epoch_seconds(run_at)).
func ScheduleIdempotencyKey(scheduleID string, runAt time.Time) string {
	sum := sha256.Sum256([]byte(scheduleID + ":" + strconv.FormatInt(runAt.Unix(), 10)))
	return hex.EncodeToString(sum[:])
}

// cronParser accepts the standard five-field format with optional seconds
// descriptors disabled; timezone handling is applied via the location.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseCron parses a cron expression in the given IANA timezone and returns
// an iterator-capable schedule. The returned cron.Schedule computes fire
// times in the schedule's own location, so DST transitions follow the IANA
// rules.
func ParseCron(expr, timezone string) (cron.Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTzInvalid, timezone)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCronInvalid, expr, err)
	}
	return tzSchedule{inner: sched, loc: loc}, nil
}

// tzSchedule evaluates the wrapped schedule in a fixed location.
type tzSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

// Next returns the next fire time strictly after t, computed in the
// schedule's location and returned in UTC.
func (s tzSchedule) Next(t time.Time) time.Time {
	next := s.inner.Next(t.In(s.loc))
	if next.IsZero() {
		return next
	}
	return next.UTC()
}
