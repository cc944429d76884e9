package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundhouse-dev/roundhouse/internal/config"
	"github.com/roundhouse-dev/roundhouse/internal/engine"
	"github.com/roundhouse-dev/roundhouse/internal/faultlog"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/modules/heartbeat"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	// TokenGenerator allows overriding the transaction token generator
	// (for testing). If nil, defaults to UUIDv7Generator.
	TokenGenerator metadata.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the dispatch engine",
		Long: `Start the roundhouse dispatch engine.

The engine registers the configured modules, broadcasts the startup and
activate lifecycle events, and runs the dispatch loop until an exit event
terminates it. SIGINT and SIGTERM trigger a graceful exit; a second signal
cancels outstanding work immediately.

Example:
  roundhouse run --config ./roundhouse.yaml
  roundhouse run --config ./roundhouse.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	// Configure logging; verbose wins over the configured level.
	logLevel := cfg.SlogLevel()
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	tokens := opts.TokenGenerator
	if tokens == nil {
		tokens = metadata.UUIDv7Generator{}
	}

	engineOpts := []engine.Option{engine.WithTokenGenerator(tokens)}

	if cfg.FailureLog != "" {
		sink, err := faultlog.NewFileSink(cfg.FailureLog)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open failure log", err)
		}
		defer func() {
			if closeErr := sink.Close(); closeErr != nil {
				slog.Error("error closing failure log", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithFailureSink(sink))
	}

	if cfg.FaultStore != "" {
		slog.Info("opening fault store", "path", cfg.FaultStore)
		st, err := faultlog.OpenStore(cfg.FaultStore)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open fault store", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing fault store", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithFailureSink(st))
	}

	eng := engine.New(engineOpts...)
	registerModules(eng, cfg)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	stopSignals := notifySignals(ctx, eng, cancel)
	defer stopSignals()

	slog.Info("engine starting", "modules", eng.Registry().Len())
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// registerModules wires the stock modules, honoring any per-module config.
func registerModules(eng *engine.Engine, cfg *config.Config) {
	interval := time.Duration(cfg.GetInt("heartbeat", "interval_ms", 1000)) * time.Millisecond
	eng.Register("heartbeat", heartbeat.New(interval))
}
