package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader loads configuration with viper. Values resolve in order: explicit
// env vars, config file, defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		l.configFile = path
	}
}

// NewLoader creates a Loader.
func NewLoader(options ...LoaderOption) *Loader {
	l := &Loader{v: viper.New()}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Load reads the configuration. A .env file in the working directory is
// applied first so that the bare spec variables (TICK_MS, LOOKAHEAD_MS, ...)
// can be supplied either way.
func (l *Loader) Load() (*Config, error) {
	// Ignore a missing .env; it is optional.
	_ = godotenv.Load()

	l.setDefaults()
	l.bindEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	cfg := &Config{
		Global: Global{
			Debug:     l.v.GetBool("debug"),
			LogFormat: l.v.GetString("logFormat"),
			Timezone:  l.v.GetString("timezone"),
		},
		Scheduler: Scheduler{
			TickInterval:      time.Duration(l.v.GetInt("tickMs")) * time.Millisecond,
			Lookahead:         time.Duration(l.v.GetInt("lookaheadMs")) * time.Millisecond,
			MaxCatchupPerTick: l.v.GetInt("maxCatchupPerTick"),
			DefaultOverlap:    l.v.GetString("defaultOverlapPolicy"),
			DefaultCatchup:    l.v.GetString("defaultCatchupPolicy"),
			DefaultJitter:     time.Duration(l.v.GetInt("defaultJitterMs")) * time.Millisecond,
			HealthPort:        l.v.GetInt("healthPort"),
			LockStaleAfter:    time.Duration(l.v.GetInt("lockStaleSec")) * time.Second,
		},
		Executor: Executor{
			MaxRetryDelay:     time.Duration(l.v.GetInt("maxRetryDelayMs")) * time.Millisecond,
			DefaultTimeout:    time.Duration(l.v.GetInt("defaultTimeoutMs")) * time.Millisecond,
			IdempotencyTTL:    time.Duration(l.v.GetInt("idempotencyCacheTtlS")) * time.Second,
			MaxConcurrentRuns: l.v.GetInt("maxConcurrentRuns"),
			InvokerEndpoint:   l.v.GetString("invokerEndpoint"),
			InvokerAPIKey:     l.v.GetString("invokerApiKey"),
		},
		Postgres: Postgres{
			DSN: l.v.GetString("postgresDsn"),
		},
		Redis: Redis{
			Addr:     l.v.GetString("redisAddr"),
			Password: l.v.GetString("redisPassword"),
			DB:       l.v.GetInt("redisDb"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("logFormat", "text")
	l.v.SetDefault("timezone", "UTC")
	l.v.SetDefault("tickMs", 1000)
	l.v.SetDefault("lookaheadMs", 60000)
	l.v.SetDefault("maxCatchupPerTick", 100)
	l.v.SetDefault("defaultOverlapPolicy", "allow")
	l.v.SetDefault("defaultCatchupPolicy", "none")
	l.v.SetDefault("defaultJitterMs", 0)
	l.v.SetDefault("healthPort", 8391)
	l.v.SetDefault("lockStaleSec", 30)
	l.v.SetDefault("maxRetryDelayMs", 30000)
	l.v.SetDefault("defaultTimeoutMs", 45000)
	l.v.SetDefault("idempotencyCacheTtlS", 86400)
	l.v.SetDefault("maxConcurrentRuns", 64)
}

// bindEnv wires both the WEAVE_-prefixed form and the bare spec variable
// names. The bare names win when both are set.
func (l *Loader) bindEnv() {
	l.v.SetEnvPrefix("WEAVE")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	bare := map[string]string{
		"tickMs":               "TICK_MS",
		"lookaheadMs":          "LOOKAHEAD_MS",
		"maxCatchupPerTick":    "MAX_CATCHUP_PER_TICK",
		"defaultOverlapPolicy": "DEFAULT_OVERLAP_POLICY",
		"defaultCatchupPolicy": "DEFAULT_CATCHUP_POLICY",
		"defaultJitterMs":      "DEFAULT_JITTER_MS",
		"maxRetryDelayMs":      "MAX_RETRY_DELAY_MS",
		"idempotencyCacheTtlS": "IDEMPOTENCY_CACHE_TTL_S",
	}
	for key, env := range bare {
		if val, ok := os.LookupEnv(env); ok {
			l.v.Set(key, val)
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Scheduler.DefaultOverlap {
	case "allow", "skip", "queue":
	default:
		return fmt.Errorf("invalid DEFAULT_OVERLAP_POLICY %q", cfg.Scheduler.DefaultOverlap)
	}
	switch cfg.Scheduler.DefaultCatchup {
	case "none", "fire_immediately", "spread":
	default:
		return fmt.Errorf("invalid DEFAULT_CATCHUP_POLICY %q", cfg.Scheduler.DefaultCatchup)
	}
	if cfg.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("TICK_MS must be positive")
	}
	if cfg.Scheduler.Lookahead <= 0 {
		return fmt.Errorf("LOOKAHEAD_MS must be positive")
	}
	if _, err := time.LoadLocation(cfg.Global.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Global.Timezone, err)
	}
	return nil
}
