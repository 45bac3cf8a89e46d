package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/executor"
)

func startCmd() *cobra.Command {
	var (
		userID    string
		inputs    []string
		inputJSON string
	)

	cmd := &cobra.Command{
		Use:   "start <workflow_id> <version>",
		Short: "Run one workflow version to completion",
		Long: `Start activates a manual run of a stored workflow version and drives it
inline. Inputs become the trigger payload.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup()
			if err != nil {
				return err
			}
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			dag, err := st.workflows.LoadDAG(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			triggers := dag.Triggers()
			if len(triggers) == 0 {
				return fmt.Errorf("workflow %s has no trigger node", dag.Ref())
			}

			payload, err := parseInputs(inputs, inputJSON)
			if err != nil {
				return err
			}

			ex := executor.New(executor.Deps{
				Workflows: st.workflows,
				Runs:      st.runs,
				Bindings:  st.bindings,
				Cache:     st.cache,
				Artifacts: st.artifacts,
				Invoker:   buildInvoker(cfg),
			}, cfg.Executor, executor.WithInlineRuns())

			runID, err := ex.Start(ctx, dag, triggers[0].ID, payload, executor.Meta{
				UserID:        userID,
				Source:        core.RunSourceManual,
				TriggerDigest: core.CanonicalDigest(payload),
			})
			if err != nil {
				return err
			}

			run, err := st.runs.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, run); err != nil {
				return err
			}
			if run.Status != core.RunStatusSuccess {
				return fmt.Errorf("run %s finished %s", run.RunID, run.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id owning the run")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "trigger input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputJSON, "input-json", "", "trigger inputs as a JSON object")
	return cmd
}

func parseInputs(pairs []string, inputJSON string) (map[string]any, error) {
	payload := map[string]any{}
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &payload); err != nil {
			return nil, fmt.Errorf("invalid --input-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q (want key=value)", pair)
		}
		payload[key] = value
	}
	return payload, nil
}
