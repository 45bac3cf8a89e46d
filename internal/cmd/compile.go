package cmd

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weave-hq/weave/internal/validator"
)

func compileCmd() *cobra.Command {
	var (
		output      string
		userID      string
		catalogPath string
	)

	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Lower an executable workflow document into a runnable DAG",
		Long: `Compile validates an executable document, lints it with auto-repair,
lowers it into the dag stage, and writes the compiled document next to the
input (or to --output). The JSON report goes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opts, err := validatorOptions(catalogPath)
			if err != nil {
				return err
			}

			doc, res := validator.ValidateBytes(validator.StageExecutable, raw, opts)
			if doc == nil {
				report := &validator.Report{OK: false, Stage: res.Stage, Errors: res.Errors}
				if err := printReport(cmd, report); err != nil {
					return err
				}
				return errExitInvalid{}
			}

			compiled, report := validator.ValidateAndCompile(doc, userID, opts)
			if err := printReport(cmd, report); err != nil {
				return err
			}
			if !report.OK || compiled == nil {
				return errExitInvalid{}
			}

			path := output
			if path == "" {
				path = strings.TrimSuffix(args[0], ".json") + ".dag.json"
			}
			out, err := json.MarshalIndent(compiled, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(path, append(out, '\n'), 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "path for the compiled document")
	cmd.Flags().StringVar(&userID, "user", "", "user id owning the workflow")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "tool catalog file (YAML or JSON)")
	return cmd
}
