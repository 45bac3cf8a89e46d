package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/scheduler"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron schedules",
	}
	cmd.AddCommand(
		scheduleUpsertCmd(),
		schedulePauseCmd("pause", true),
		schedulePauseCmd("resume", false),
		scheduleDeleteCmd(),
		schedulePreviewCmd(),
	)
	return cmd
}

// withScheduler opens the stores and hands a scheduler facade to fn.
func withScheduler(fn func(cmd *cobra.Command, args []string, s *scheduler.Scheduler) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := setup()
		if err != nil {
			return err
		}
		st, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.close()
		cmd.SetContext(ctx)
		return fn(cmd, args, scheduler.New(st.schedules, nil, cfg.Scheduler))
	}
}

func scheduleUpsertCmd() *cobra.Command {
	var (
		workflowID string
		version    string
		userID     string
		cronExpr   string
		timezone   string
		startAt    string
		endAt      string
		jitterMS   int
		overlap    string
		catchup    string
	)

	cmd := &cobra.Command{
		Use:   "upsert <schedule_id>",
		Short: "Create or replace a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: withScheduler(func(cmd *cobra.Command, args []string, s *scheduler.Scheduler) error {
			sched := &core.Schedule{
				ScheduleID:    args[0],
				WorkflowID:    workflowID,
				Version:       version,
				UserID:        userID,
				CronExpr:      cronExpr,
				Timezone:      timezone,
				JitterMS:      jitterMS,
				OverlapPolicy: core.OverlapPolicy(overlap),
				CatchupPolicy: core.CatchupPolicy(catchup),
			}
			var err error
			if sched.StartAt, err = parseTimeFlag(startAt); err != nil {
				return err
			}
			if sched.EndAt, err = parseTimeFlag(endAt); err != nil {
				return err
			}
			saved, err := s.UpsertSchedule(cmd.Context(), sched)
			if err != nil {
				return err
			}
			return printJSON(cmd, saved)
		}),
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&version, "version", "", "workflow version")
	cmd.Flags().StringVar(&userID, "user", "", "user id owning the schedule")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "five-field cron expression")
	cmd.Flags().StringVar(&timezone, "tz", "UTC", "IANA timezone for the cron expression")
	cmd.Flags().StringVar(&startAt, "start", "", "RFC3339 time before which the schedule never fires")
	cmd.Flags().StringVar(&endAt, "end", "", "RFC3339 time after which the schedule never fires")
	cmd.Flags().IntVar(&jitterMS, "jitter-ms", 0, "max random dispatch offset in milliseconds")
	cmd.Flags().StringVar(&overlap, "overlap", "", "overlap policy: allow, skip, or queue")
	cmd.Flags().StringVar(&catchup, "catchup", "", "catchup policy: none, fire_immediately, or spread")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func schedulePauseCmd(use string, paused bool) *cobra.Command {
	short := "Pause a schedule without losing its position"
	if !paused {
		short = "Resume a paused schedule"
	}
	return &cobra.Command{
		Use:   use + " <schedule_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withScheduler(func(cmd *cobra.Command, args []string, s *scheduler.Scheduler) error {
			return s.PauseSchedule(cmd.Context(), args[0], paused)
		}),
	}
}

func scheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <schedule_id>",
		Short: "Delete a schedule; its run history stays",
		Args:  cobra.ExactArgs(1),
		RunE: withScheduler(func(cmd *cobra.Command, args []string, s *scheduler.Scheduler) error {
			return s.DeleteSchedule(cmd.Context(), args[0])
		}),
	}
}

func schedulePreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <schedule_id>",
		Short: "Show a schedule and its next fire times",
		Args:  cobra.ExactArgs(1),
		RunE: withScheduler(func(cmd *cobra.Command, args []string, s *scheduler.Scheduler) error {
			sched, next, err := s.GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"schedule": sched,
				"next":     next,
			})
		}),
	}
}

func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q (want RFC3339): %w", value, err)
	}
	return &t, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
