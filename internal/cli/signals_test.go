package cli

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundhouse-dev/roundhouse/internal/engine"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// hangingModule exposes a "hang" handler that blocks until the run
// context is cancelled, keeping the running set non-empty.
func hangingModule() module.Factory {
	return func(name string, core module.Core) module.Module {
		b := module.NewBase(name, core, module.Hooks{})
		b.SetOwner(b)
		b.Handle("hang", func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			<-ctx.Done()
			return nil, nil
		})
		return b
	}
}

func TestSignalTriggersGracefulExit(t *testing.T) {
	eng := engine.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	stopSignals := notifySignals(ctx, eng, cancel)
	defer stopSignals()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit after signal")
	}
	assert.True(t, eng.Exiting())
}

func TestSecondSignalCancelsRun(t *testing.T) {
	eng := engine.New()
	eng.Register("svc", hangingModule())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	stopSignals := notifySignals(ctx, eng, cancel)
	defer stopSignals()

	// A hanging task keeps the exit wait from completing, so only the
	// second signal can end the run.
	md := metadata.New(eng.Tokens(), nil, "test")
	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.hang", md, nil))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	require.Eventually(t, func() bool { return eng.Exiting() },
		3*time.Second, time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after second signal")
	}
}
