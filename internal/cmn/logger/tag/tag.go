// Package tag provides standardized tag functions for structured logging.
//
// Use these functions instead of raw strings to ensure consistent and
// type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Workflow creates a tag for workflow IDs.
func Workflow(id string) slog.Attr {
	return slog.String("workflow", id)
}

// Version creates a tag for workflow versions.
func Version(v string) slog.Attr {
	return slog.String("version", v)
}

// RunID creates a tag for run IDs.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// Node creates a tag for DAG node IDs.
func Node(id string) slog.Attr {
	return slog.String("node", id)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Schedule creates a tag for schedule IDs.
func Schedule(id string) slog.Attr {
	return slog.String("schedule", id)
}

// Status creates a tag for execution status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Stage creates a tag for validation stages.
func Stage(stage string) slog.Attr {
	return slog.String("stage", stage)
}

// Code creates a tag for rule codes.
func Code(code string) slog.Attr {
	return slog.String("code", code)
}

// Tool creates a tag for tool slugs.
func Tool(slug string) slog.Attr {
	return slog.String("tool", slug)
}

// Action creates a tag for action names.
func Action(name string) slog.Attr {
	return slog.String("action", name)
}

// RunAt creates a tag for scheduled fire times.
func RunAt(t time.Time) slog.Attr {
	return slog.Time("run-at", t)
}

// IdemKey creates a tag for idempotency keys.
func IdemKey(key string) slog.Attr {
	return slog.String("idem-key", key)
}

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Lookahead creates a tag for scheduler lookahead windows.
func Lookahead(d time.Duration) slog.Attr {
	return slog.Duration("lookahead", d)
}

// Interval creates a tag for durations.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Port creates a tag for network ports.
func Port(p int) slog.Attr {
	return slog.Int("port", p)
}

// Path creates a tag for file paths.
func Path(p string) slog.Attr {
	return slog.String("path", p)
}
