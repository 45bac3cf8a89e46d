// Package cmd implements the weave command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/weave-hq/weave/internal/build"
)

var cfgFile string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           build.Slug,
		Short:         "Workflow control plane: validate, compile, schedule, and execute DAG workflows.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./weave.yaml)")

	cmd.AddCommand(
		validateCmd(),
		compileCmd(),
		scheduleCmd(),
		schedulerCmd(),
		startCmd(),
		versionCmd(),
	)
	return cmd
}

// Execute runs the CLI. Validation failures exit with code 2, everything
// else with 1.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		if isExitInvalid(err) {
			os.Exit(2)
		}
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// errExitInvalid marks a validation failure that was already reported on
// stdout.
type errExitInvalid struct{}

func (errExitInvalid) Error() string { return "document is invalid" }

func isExitInvalid(err error) bool {
	_, ok := err.(errExitInvalid)
	return ok
}
