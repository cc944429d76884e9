package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roundhouse-dev/roundhouse/internal/engine"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
)

// notifySignals installs the signal adapter: the first SIGINT or SIGTERM
// triggers a graceful "exit" event through the engine; a second signal
// cancels the run context so blocked work is abandoned. The returned
// function releases the signal handler.
func notifySignals(ctx context.Context, eng *engine.Engine, cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, requesting exit", "signal", sig)
			md := metadata.New(eng.Tokens(), nil, "signals")
			if err := eng.TriggerEvent(ctx, "exit", md, nil); err != nil {
				slog.Error("failed to trigger exit event", "error", err)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			slog.Warn("received second signal, canceling", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() { signal.Stop(sigChan) }
}
