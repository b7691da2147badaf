package main

import (
	"fmt"
	"io"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/dialog/dialoginfra"
	"github.com/Abraxas-365/convo/dialog/flowstore"
	"github.com/Abraxas-365/convo/dialog/instrexec"
	"github.com/Abraxas-365/convo/dialog/promptexec"
	"github.com/spf13/cobra"
)

var strict bool

var validateCmd = &cobra.Command{
	Use:   "validate <flow-dir>",
	Short: "Lint every flow of a directory",
	Long: `Validate loads all flows below flow-dir and reports structural problems:
unknown nodes and flows, missing prompt or subflow configuration, unknown
actions and prompt types, unreachable nodes.

Example:
  dialogctl validate ./flows/support-bot
  dialogctl validate ./flows/support-bot --strict
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), args[0], strict)
	},
}

func init() {
	validateCmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
}

// defaultKnown checks flows against the built-in actions and prompt types.
func defaultKnown() flowstore.Known {
	return flowstore.Known{
		Action:     instrexec.NewProcessor().Has,
		PromptType: promptexec.NewProcessor(promptexec.Config{}).Has,
	}
}

func runValidate(out io.Writer, dir string, strict bool) error {
	flows, err := dialoginfra.LoadDir(dir)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		return fmt.Errorf("no flow files found in %s", dir)
	}

	issues := flowstore.Lint(flows, defaultKnown())
	errs, warnings := 0, 0
	for _, issue := range issues {
		fmt.Fprintln(out, issue)
		if issue.Severity == flowstore.SeverityError {
			errs++
		} else {
			warnings++
		}
	}

	fmt.Fprintf(out, "%d flows, %d errors, %d warnings\n", len(flows), errs, warnings)
	if errs > 0 || (strict && warnings > 0) {
		return dialog.ErrInvalidFlowDefinition().
			WithDetail("errors", errs).
			WithDetail("warnings", warnings)
	}
	return nil
}
