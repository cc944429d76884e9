package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundhouse-dev/roundhouse/internal/faultlog"
)

// FaultRecord is the JSON shape of a stored task failure.
type FaultRecord struct {
	Time        string `json:"time"`
	Transaction string `json:"transaction"`
	Module      string `json:"module"`
	Handler     string `json:"handler"`
	Seq         int64  `json:"seq"`
	Error       string `json:"error"`
	Stack       string `json:"stack,omitempty"`
}

// NewFaultsCommand creates the faults command.
func NewFaultsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faults <store.db>",
		Short: "List task failures recorded in a fault store",
		Long: `List the task failures recorded in a SQLite fault store.

The fault store is written by a running engine when the config sets
fault_store. Records are listed in dispatch order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFaults(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runFaults(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := faultlog.OpenStore(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open fault store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing fault store", "error", closeErr)
		}
	}()

	failures, err := st.Failures()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read fault store", err)
	}

	if formatter.Format == "json" {
		records := make([]FaultRecord, 0, len(failures))
		for _, f := range failures {
			records = append(records, FaultRecord{
				Time:        f.Time.UTC().Format(time.RFC3339Nano),
				Transaction: f.Transaction,
				Module:      f.Module,
				Handler:     f.Handler,
				Seq:         f.Seq,
				Error:       f.Err,
				Stack:       string(f.Stack),
			})
		}
		return formatter.Success(records)
	}

	if len(failures) == 0 {
		fmt.Fprintln(formatter.Writer, "No failures recorded.")
		return nil
	}

	for _, f := range failures {
		fmt.Fprintf(formatter.Writer, "%s  %s.%s  seq=%d  tx=%s\n",
			f.Time.UTC().Format(time.RFC3339), f.Module, f.Handler, f.Seq, f.Transaction)
		if f.Err != "" {
			fmt.Fprintf(formatter.Writer, "  %s\n", f.Err)
		}
		if opts.Verbose && len(f.Stack) > 0 {
			formatter.Writer.Write(f.Stack)
		}
	}
	fmt.Fprintf(formatter.Writer, "%d failure(s)\n", len(failures))
	return nil
}
