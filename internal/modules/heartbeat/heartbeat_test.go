package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
	"github.com/roundhouse-dev/roundhouse/internal/testutil"
)

type closedHandle struct{}

func (closedHandle) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (closedHandle) Err() error { return nil }

// beatCore counts TriggerEvent calls and ignores everything else.
type beatCore struct {
	mu        sync.Mutex
	triggered []string
}

func (c *beatCore) ExecTask(ctx context.Context, target string, md metadata.Metadata, args module.Args) (any, error) {
	return nil, nil
}

func (c *beatCore) ExecTaskAsync(ctx context.Context, target string, md metadata.Metadata, args module.Args) error {
	return nil
}

func (c *beatCore) EnqueueTask(ctx context.Context, target string, md metadata.Metadata, args module.Args) error {
	return nil
}

func (c *beatCore) TriggerEvent(ctx context.Context, event string, md metadata.Metadata, args module.Args) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggered = append(c.triggered, event)
	return nil
}

func (c *beatCore) BroadcastEvent(ctx context.Context, event string, md metadata.Metadata, args module.Args) error {
	return nil
}

func (c *beatCore) BroadcastEventSync(ctx context.Context, event string, md metadata.Metadata, args module.Args) error {
	return nil
}

func (c *beatCore) StartHandler(ctx context.Context, m module.Module, handler string, md metadata.Metadata, args module.Args) (module.Handle, error) {
	return closedHandle{}, nil
}

func (c *beatCore) Tokens() metadata.TokenGenerator {
	return testutil.StaticTokens{}
}

func (c *beatCore) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.triggered...)
}

func TestNewDefaultsInterval(t *testing.T) {
	m := New(0)("heartbeat", &beatCore{})
	h, ok := m.(*Heartbeat)
	require.True(t, ok)
	assert.Equal(t, DefaultInterval, h.interval)

	m = New(25 * time.Millisecond)("heartbeat", &beatCore{})
	assert.Equal(t, 25*time.Millisecond, m.(*Heartbeat).interval)
}

func TestCountHandler(t *testing.T) {
	m := New(time.Second)("heartbeat", &beatCore{})
	h := m.(*Heartbeat)
	h.beats.Store(3)

	fn, ok := m.Handler("count")
	require.True(t, ok)

	got, err := fn(context.Background(), metadata.Metadata{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestRunActiveBeatsUntilDeactivated(t *testing.T) {
	core := &beatCore{}
	m := New(5 * time.Millisecond)("heartbeat", core)
	h := m.(*Heartbeat)

	md := metadata.New(core.Tokens(), nil, "test")
	ctx := context.Background()

	// Walk the lifecycle so the module becomes active.
	_, err := module.Invoke(ctx, m, module.EventStartup, md, nil)
	require.NoError(t, err)
	_, err = module.Invoke(ctx, m, module.EventActivate, md, nil)
	require.NoError(t, err)
	require.True(t, h.Active())

	done := make(chan error, 1)
	go func() {
		done <- h.runActive(ctx, md)
	}()

	assert.Eventually(t, func() bool {
		return h.beats.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	_, err = module.Invoke(ctx, m, module.EventDeactivate, md, nil)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("active loop did not stop after deactivation")
	}

	events := core.events()
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, "heartbeat", ev)
	}
}

func TestRunActiveStopsOnContextCancel(t *testing.T) {
	core := &beatCore{}
	m := New(time.Hour)("heartbeat", core)
	h := m.(*Heartbeat)

	md := metadata.New(core.Tokens(), nil, "test")
	_, err := module.Invoke(context.Background(), m, module.EventStartup, md, nil)
	require.NoError(t, err)
	_, err = module.Invoke(context.Background(), m, module.EventActivate, md, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.runActive(ctx, md)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("active loop did not observe cancellation")
	}
}
