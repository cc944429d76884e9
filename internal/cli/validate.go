package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roundhouse-dev/roundhouse/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Modules []string `json:"modules,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a config file without starting the engine",
		Long: `Validate a roundhouse YAML config file.

Checks YAML syntax and validates the document against the config schema,
including unknown-key detection, without starting the engine.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error("E001", fmt.Sprintf("cannot read %s", path), err.Error())
		return WrapExitError(ExitCommandError, "cannot read config", err)
	}

	cfg, err := config.Parse(data)
	if err != nil {
		if formatter.Format == "json" {
			_ = formatter.Success(ValidationResult{Valid: false, Error: err.Error()})
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Config invalid")
			fmt.Fprintf(formatter.Writer, "  %v\n", err)
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}

	modules := make([]string, 0, len(cfg.Modules))
	for name := range cfg.Modules {
		modules = append(modules, name)
	}
	sort.Strings(modules)

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Modules: modules})
	}

	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	formatter.VerboseLog("modules configured: %d", len(modules))
	return nil
}
