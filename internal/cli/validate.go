package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sonilabs/soni/internal/config"
	"github.com/sonilabs/soni/internal/flow"
)

var (
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate flow documents",
	Long: `Parse and compile the configured flow documents, reporting schema
errors, unresolvable transition targets, unreachable steps, and unsafe
cycles. With file arguments, validates those files instead of the configured
globs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := resolveHostConfig(nil)
		if err != nil {
			return err
		}
		return runValidate(cmd.OutOrStdout(), rc, args)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// runValidate compiles the flow documents and reports every finding.
// Returns an error when compilation fails.
func runValidate(out io.Writer, rc *config.ResolvedConfig, paths []string) error {
	cfg, warnings, err := loadCompiledConfig(rc, paths)
	if err != nil {
		var compileErrs flow.CompileErrors
		if errors.As(err, &compileErrs) {
			for _, ce := range compileErrs {
				fmt.Fprintln(out, styleError.Render("error:"), ce.Error())
			}
			return fmt.Errorf("%d error(s) found", len(compileErrs))
		}
		return err
	}

	for _, w := range warnings {
		fmt.Fprintln(out, styleWarn.Render("warning:"), w.String())
	}

	flows := len(cfg.Graphs)
	fmt.Fprintln(out, styleOK.Render("ok:"), fmt.Sprintf("%d flow(s) compiled", flows))
	return nil
}
