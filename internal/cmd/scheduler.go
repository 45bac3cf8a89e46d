package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/cmn/logger/tag"
	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/executor"
	"github.com/weave-hq/weave/internal/invoker"
	"github.com/weave-hq/weave/internal/scheduler"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the cron scheduler tick loop",
		Long: `Scheduler runs the tick loop: due schedules are enumerated, planned
instants are reserved exactly once, and runs are dispatched to the executor.
A health endpoint answers on the configured port.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			ex := executor.New(executor.Deps{
				Workflows: st.workflows,
				Runs:      st.runs,
				Bindings:  st.bindings,
				Cache:     st.cache,
				Artifacts: st.artifacts,
				Invoker:   buildInvoker(cfg),
			}, cfg.Executor, executor.WithLease(st.lease))

			sch := scheduler.New(st.schedules, ex.ActivateSchedule, cfg.Scheduler,
				scheduler.WithLease(st.lease))

			health := scheduler.NewHealthServer(cfg.Scheduler.HealthPort)
			go func() {
				if err := health.Start(ctx); err != nil {
					logger.Error(ctx, "Health server stopped", tag.Error(err))
				}
			}()

			err = sch.Start(ctx)
			ex.Wait()
			return err
		},
	}
}

// buildInvoker selects the relay client or, without an endpoint, the
// dry-run invoker.
func buildInvoker(cfg *config.Config) core.ToolInvoker {
	if cfg.Executor.InvokerEndpoint != "" {
		return invoker.NewHTTP(cfg.Executor.InvokerEndpoint, cfg.Executor.InvokerAPIKey)
	}
	return invoker.DryRun{}
}
