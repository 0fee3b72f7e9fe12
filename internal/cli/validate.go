package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sieve/internal/emulate"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                   `json:"valid"`
	Collections []string               `json:"collections"`
	Warnings    []emulate.CycleWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definitions-dir>",
		Short: "Validate collection definitions",
		Long: `Compile the CUE definitions of a directory and check them.

Errors (unknown operators, dangling relations, bad replacement templates)
fail the command. Replacements that can rewrite into each other are
reported as warnings; they only fail at query time if the loop is reached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	def, err := loadDefinitions(f, dir)
	if err != nil {
		return err
	}

	result := ValidationResult{Valid: true, Warnings: def.Warnings()}
	for _, c := range def.Collections {
		result.Collections = append(result.Collections, c.Name)
		f.VerboseLog("Collection %s: %d fields, %d replacements", c.Name, len(c.Schema.Fields), len(c.Replacements))
	}

	return f.Success(result, func(w io.Writer) {
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warning.Message)
		}
		fmt.Fprintf(w, "✓ %d collection(s) valid\n", len(result.Collections))
	})
}
