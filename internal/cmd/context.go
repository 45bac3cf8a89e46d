package cmd

import (
	"context"

	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/persistence/memory"
	"github.com/weave-hq/weave/internal/persistence/postgres"
	"github.com/weave-hq/weave/internal/persistence/rediscache"
)

// setup loads configuration and returns a context carrying the configured
// logger.
func setup() (context.Context, *config.Config, error) {
	var opts []config.LoaderOption
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return nil, nil, err
	}

	logOpts := []logger.Option{logger.WithFormat(cfg.Global.LogFormat)}
	if cfg.Global.Debug {
		logOpts = append(logOpts, logger.WithDebug())
	}
	ctx := logger.WithLogger(context.Background(), logger.NewLogger(logOpts...))
	return ctx, cfg, nil
}

// stores bundles every persistence interface a service needs. Postgres backs
// them when a DSN is configured; otherwise everything runs in memory for
// local development.
type stores struct {
	workflows core.WorkflowStore
	runs      core.RunStore
	bindings  core.TriggerBindingStore
	schedules core.ScheduleStore
	cache     core.IdempotencyCache
	artifacts core.ArtifactStore
	lease     core.Lease
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{close: func() {}}

	if cfg.Postgres.DSN != "" {
		client, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if err := client.Migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		st.workflows = client.Workflows()
		st.runs = client.Runs()
		st.bindings = client.Bindings()
		st.schedules = client.Schedules()
		st.artifacts = client.Artifacts()
		st.lease = client.Lease()
		st.close = client.Close
	} else {
		st.workflows = memory.NewWorkflowStore()
		st.runs = memory.NewRunStore()
		st.bindings = memory.NewTriggerBindingStore()
		st.schedules = memory.NewScheduleStore()
		st.artifacts = memory.NewArtifactStore()
		st.lease = memory.NewLease(memory.NewLeaseRegistry())
	}

	if cfg.Redis.Addr != "" {
		cache, err := rediscache.Connect(ctx, cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.cache = cache
		inner := st.close
		st.close = func() {
			_ = cache.Close()
			inner()
		}
	} else {
		st.cache = memory.NewIdempotencyCache()
	}

	return st, nil
}
