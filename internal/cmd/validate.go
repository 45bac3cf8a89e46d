package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weave-hq/weave/internal/catalog"
	"github.com/weave-hq/weave/internal/validator"
)

func validateCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "validate [template|executable|dag] <file>",
		Short: "Validate a workflow document at one pipeline stage",
		Long: `Validate parses a workflow document and checks it against the rules of
the given stage. The JSON report goes to stdout; an invalid document exits
with code 2.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := validator.Stage(args[0])
			if !stage.Valid() {
				return fmt.Errorf("unknown stage %q (want template, executable, or dag)", args[0])
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			opts, err := validatorOptions(catalogPath)
			if err != nil {
				return err
			}

			doc, res := validator.ValidateBytes(stage, raw, opts)
			report := &validator.Report{OK: res.OK, Stage: res.Stage, Errors: res.Errors}
			if doc != nil {
				lint := validator.Lint(stage, doc, &validator.LintContext{Catalog: opts.Catalog})
				report.Lint = lint
				report.OK = report.OK && !lint.HasErrors()
			}

			if err := printReport(cmd, report); err != nil {
				return err
			}
			if !report.OK {
				return errExitInvalid{}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "tool catalog file (YAML or JSON)")
	return cmd
}

func validatorOptions(catalogPath string) (validator.Options, error) {
	var opts validator.Options
	if catalogPath != "" {
		snap, err := catalog.Load(catalogPath)
		if err != nil {
			return opts, err
		}
		opts.Catalog = snap
	}
	return opts, nil
}

func printReport(cmd *cobra.Command, report *validator.Report) error {
	out, err := report.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
