package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.Lookahead)
	assert.Equal(t, 100, cfg.Scheduler.MaxCatchupPerTick)
	assert.Equal(t, "allow", cfg.Scheduler.DefaultOverlap)
	assert.Equal(t, "none", cfg.Scheduler.DefaultCatchup)
	assert.Equal(t, 30*time.Second, cfg.Executor.MaxRetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.Executor.IdempotencyTTL)
	assert.Equal(t, "UTC", cfg.Global.Timezone)
}

func TestLoadBareEnvOverrides(t *testing.T) {
	t.Setenv("TICK_MS", "250")
	t.Setenv("MAX_CATCHUP_PER_TICK", "7")
	t.Setenv("DEFAULT_OVERLAP_POLICY", "skip")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, 7, cfg.Scheduler.MaxCatchupPerTick)
	assert.Equal(t, "skip", cfg.Scheduler.DefaultOverlap)
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Setenv("DEFAULT_OVERLAP_POLICY", "sometimes")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_OVERLAP_POLICY")
}
