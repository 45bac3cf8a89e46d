package scheduler

import (
	"time"

	"github.com/weave-hq/weave/internal/core"
)

// Plan is one planned emission: the logical cron instant and the moment the
// dispatch should actually happen (after catchup spreading and jitter the
// two can differ).
type Plan struct {
	RunAt  time.Time
	FireAt time.Time
}

// EnumerateDueTimes lists the fire times of a schedule inside
// [from, horizon], applying the catchup policy relative to now. The result
// is the prefix of the cron iteration starting at the first instant >= from,
// capped at maxCatchup entries; the excess carries to the next tick. The
// second return is the last instant the enumeration considered (dropped
// instants included), which the caller uses to advance next_run_at; it is
// zero when no instant fell inside the window.
func EnumerateDueTimes(s *core.Schedule, now, horizon time.Time, maxCatchup int) ([]Plan, time.Time, error) {
	sched, err := core.ParseCron(s.CronExpr, s.Timezone)
	if err != nil {
		return nil, time.Time{}, err
	}

	from := s.NextRunAt
	if s.StartAt != nil && s.StartAt.After(from) {
		from = *s.StartAt
	}

	var due []time.Time
	// step back one second so an exactly-aligned from is included
	for t := sched.Next(from.Add(-time.Second)); !t.IsZero() && !t.After(horizon); t = sched.Next(t) {
		if s.EndAt != nil && t.After(*s.EndAt) {
			break
		}
		due = append(due, t)
		if len(due) >= maxCatchup {
			break
		}
	}
	if len(due) == 0 {
		return nil, time.Time{}, nil
	}
	last := due[len(due)-1]

	switch s.CatchupPolicy {
	case core.CatchupNone:
		// drop instants that already passed; they are lost, not late
		kept := due[:0]
		for _, t := range due {
			if !t.Before(now) {
				kept = append(kept, t)
			}
		}
		due = kept
		plans := make([]Plan, len(due))
		for i, t := range due {
			plans[i] = Plan{RunAt: t, FireAt: t}
		}
		return plans, last, nil

	case core.CatchupSpread:
		// keep every instant but space the dispatches uniformly across the
		// remaining window, monotonically increasing
		plans := make([]Plan, len(due))
		window := horizon.Sub(now)
		if window < 0 {
			window = 0
		}
		step := window / time.Duration(len(due)+1)
		for i, t := range due {
			fire := now.Add(step * time.Duration(i+1))
			if t.After(fire) {
				fire = t
			}
			plans[i] = Plan{RunAt: t, FireAt: fire}
		}
		return plans, last, nil

	default: // fire_immediately
		plans := make([]Plan, len(due))
		for i, t := range due {
			fire := t
			if fire.Before(now) {
				fire = now
			}
			plans[i] = Plan{RunAt: t, FireAt: fire}
		}
		return plans, last, nil
	}
}

// Preview returns the next n fire times of a schedule after now.
func Preview(s *core.Schedule, now time.Time, n int) ([]time.Time, error) {
	sched, err := core.ParseCron(s.CronExpr, s.Timezone)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := now
	for len(out) < n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if s.EndAt != nil && t.After(*s.EndAt) {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// NextAfter computes the first fire time strictly after t.
func NextAfter(s *core.Schedule, t time.Time) (time.Time, error) {
	sched, err := core.ParseCron(s.CronExpr, s.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	if s.StartAt != nil && s.StartAt.After(t) {
		t = s.StartAt.Add(-time.Second)
	}
	return sched.Next(t), nil
}
