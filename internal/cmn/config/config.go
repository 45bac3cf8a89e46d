// Package config loads service configuration from environment variables and
// an optional YAML config file.
package config

import (
	"time"
)

// Config holds the full configuration for all weave services.
type Config struct {
	Global    Global
	Scheduler Scheduler
	Executor  Executor
	Postgres  Postgres
	Redis     Redis
}

// Global holds settings shared by all services.
type Global struct {
	Debug     bool
	LogFormat string // "text" or "json"
	Timezone  string // IANA name used when schedules omit one
}

// Scheduler holds tick-loop settings.
type Scheduler struct {
	TickInterval      time.Duration
	Lookahead         time.Duration
	MaxCatchupPerTick int
	DefaultOverlap    string
	DefaultCatchup    string
	DefaultJitter     time.Duration
	HealthPort        int
	LockStaleAfter    time.Duration
}

// Executor holds run-engine settings.
type Executor struct {
	MaxRetryDelay     time.Duration
	DefaultTimeout    time.Duration
	IdempotencyTTL    time.Duration
	MaxConcurrentRuns int

	// InvokerEndpoint is the base URL of the tool execution relay. Empty
	// selects the dry-run invoker, which only logs and echoes arguments.
	InvokerEndpoint string
	InvokerAPIKey   string
}

// Postgres holds database connection settings. An empty DSN selects the
// in-memory stores.
type Postgres struct {
	DSN string
}

// Redis holds idempotency-cache connection settings. An empty address
// selects the in-memory cache.
type Redis struct {
	Addr     string
	Password string
	DB       int
}
