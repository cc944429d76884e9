package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundhouse-dev/roundhouse/internal/faultlog"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// memSink collects failure records in memory.
type memSink struct {
	mu      sync.Mutex
	records []faultlog.Failure
}

func (s *memSink) Record(f faultlog.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, f)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) Records() []faultlog.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]faultlog.Failure, len(s.records))
	copy(out, s.records)
	return out
}

// withHandlers builds a Base-backed module with extra handlers bound.
func withHandlers(handlers map[string]module.HandlerFunc) module.Factory {
	return func(name string, core module.Core) module.Module {
		b := module.NewBase(name, core, module.Hooks{})
		b.SetOwner(b)
		for n, h := range handlers {
			b.Handle(n, h)
		}
		return b
	}
}

// startEngine runs eng on its own goroutine and returns the run context
// plus a stop function that triggers exit and waits for termination.
func startEngine(t *testing.T, eng *Engine) (context.Context, func() error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	stop := func() error {
		md := metadata.New(eng.Tokens(), nil, "test")
		if err := eng.TriggerEvent(ctx, "exit", md, nil); err != nil {
			return err
		}
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("engine did not stop")
		}
	}
	return ctx, stop
}

func testMeta(eng *Engine) metadata.Metadata {
	return metadata.New(eng.Tokens(), nil, "test")
}

func TestRunLifecycle(t *testing.T) {
	var initRan, passiveRan, activeRan atomic.Bool

	eng := New()
	eng.Register("svc", func(name string, core module.Core) module.Module {
		b := module.NewBase(name, core, module.Hooks{
			Init: func(ctx context.Context, md metadata.Metadata) error {
				initRan.Store(true)
				return nil
			},
			RunPassive: func(ctx context.Context, md metadata.Metadata) error {
				passiveRan.Store(true)
				return nil
			},
			RunActive: func(ctx context.Context, md metadata.Metadata) error {
				activeRan.Store(true)
				return nil
			},
		})
		b.SetOwner(b)
		return b
	})

	_, stop := startEngine(t, eng)
	require.NoError(t, stop())

	assert.True(t, initRan.Load())
	assert.True(t, passiveRan.Load())
	assert.True(t, activeRan.Load())
	assert.True(t, eng.Exiting())

	m, ok := eng.Registry().Lookup("svc")
	require.True(t, ok)
	assert.False(t, m.Ready())
}

func TestExecTaskSync(t *testing.T) {
	eng := New()
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"echo": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			return args["v"], nil
		},
	}))

	ctx, stop := startEngine(t, eng)

	res, err := eng.ExecTask(ctx, "svc.echo", testMeta(eng), module.Args{"v": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	require.NoError(t, stop())
}

func TestExecTaskUnknownModule(t *testing.T) {
	eng := New()
	eng.Register("svc", withHandlers(nil))

	ctx, stop := startEngine(t, eng)

	_, err := eng.ExecTask(ctx, "ghost.work", testMeta(eng), nil)
	assert.True(t, IsUnknownModule(err))

	_, err = eng.ExecTask(ctx, "svc.missing", testMeta(eng), nil)
	assert.True(t, module.IsUnknownHandler(err))

	require.NoError(t, stop())
}

// neverReady is a module that never accepts dispatched calls.
type neverReady struct{ name string }

func (m *neverReady) Name() string                              { return m.name }
func (m *neverReady) Handler(string) (module.HandlerFunc, bool) { return nil, false }
func (m *neverReady) Ready() bool                               { return false }

func TestExecTaskModuleInactive(t *testing.T) {
	eng := New()
	eng.Register("stuck", func(name string, core module.Core) module.Module {
		return &neverReady{name: name}
	})

	ctx, stop := startEngine(t, eng)

	_, err := eng.ExecTask(ctx, "stuck.work", testMeta(eng), nil)
	assert.True(t, IsModuleInactive(err))

	require.NoError(t, stop())
}

func TestBroadcastSplitHorizon(t *testing.T) {
	var mu sync.Mutex
	var got []string
	record := func(name string) module.HandlerFunc {
		return func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name)
			return nil, nil
		}
	}

	eng := New()
	eng.Register("a", withHandlers(map[string]module.HandlerFunc{"on_ping": record("a")}))
	eng.Register("b", withHandlers(map[string]module.HandlerFunc{"on_ping": record("b")}))
	eng.Register("c", withHandlers(map[string]module.HandlerFunc{"on_ping": record("c")}))

	ctx, stop := startEngine(t, eng)

	src, ok := eng.Registry().Lookup("a")
	require.True(t, ok)
	md := metadata.Metadata{Transaction: "tx-1", Source: src, SourceName: "a"}
	require.NoError(t, eng.BroadcastEventSync(ctx, "ping", md, nil))

	mu.Lock()
	assert.Equal(t, []string{"b", "c"}, got)
	mu.Unlock()

	require.NoError(t, stop())
}

func TestTriggerEventDeliversToAll(t *testing.T) {
	received := make(chan string, 2)
	record := func(name string) module.HandlerFunc {
		return func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			received <- name
			return nil, nil
		}
	}

	eng := New()
	eng.Register("a", withHandlers(map[string]module.HandlerFunc{"on_ping": record("a")}))
	eng.Register("b", withHandlers(map[string]module.HandlerFunc{"on_ping": record("b")}))

	ctx, stop := startEngine(t, eng)

	require.NoError(t, eng.TriggerEvent(ctx, "ping", testMeta(eng), nil))

	names := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-received:
			names[n] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])

	require.NoError(t, stop())
}

func TestEnqueueTaskProcessed(t *testing.T) {
	ran := make(chan struct{})

	eng := New()
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"work": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			close(ran)
			return nil, nil
		},
	}))

	ctx, stop := startEngine(t, eng)

	require.NoError(t, eng.EnqueueTask(ctx, "svc.work", testMeta(eng), nil))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never ran")
	}

	require.NoError(t, stop())
}

func TestExitWaitsForRunningTasks(t *testing.T) {
	var finished atomic.Int32

	eng := New()
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"slow": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			time.Sleep(50 * time.Millisecond)
			finished.Add(1)
			return nil, nil
		},
	}))

	ctx, stop := startEngine(t, eng)

	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.slow", testMeta(eng), nil))
	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.slow", testMeta(eng), nil))

	// Exit is requested while both tasks are still sleeping; the
	// dispatcher must collect them before terminating.
	require.NoError(t, stop())
	assert.Equal(t, int32(2), finished.Load())
	assert.Equal(t, 0, eng.RunningTasks())
}

func TestFailureIsolation(t *testing.T) {
	sink := &memSink{}

	eng := New(WithFailureSink(sink))
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"boom": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			return nil, errors.New("deliberate failure")
		},
		"echo": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			return "still alive", nil
		},
	}))

	ctx, stop := startEngine(t, eng)

	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.boom", testMeta(eng), nil))

	// The dispatcher keeps serving after the failure.
	res, err := eng.ExecTask(ctx, "svc.echo", testMeta(eng), nil)
	require.NoError(t, err)
	assert.Equal(t, "still alive", res)

	require.NoError(t, stop())

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "svc", records[0].Module)
	assert.Equal(t, "boom", records[0].Handler)
	assert.Contains(t, records[0].Err, "deliberate failure")
	assert.Empty(t, records[0].Stack)
}

func TestPanicRecovered(t *testing.T) {
	sink := &memSink{}

	eng := New(WithFailureSink(sink))
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"kaboom": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			panic("kaboom")
		},
	}))

	ctx, stop := startEngine(t, eng)

	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.kaboom", testMeta(eng), nil))
	require.NoError(t, stop())

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Err, "kaboom")
	assert.NotEmpty(t, records[0].Stack)
}

func TestShutdownStagesOrderedOnce(t *testing.T) {
	var mu sync.Mutex
	var stages []string
	var exits atomic.Int32

	stageRecorder := func(moduleName string) module.Factory {
		return func(name string, core module.Core) module.Module {
			b := module.NewBase(name, core, module.Hooks{})
			b.SetOwner(b)
			for _, stage := range []string{
				module.EventDeactivate,
				module.EventInitiateShutdown,
				module.EventFinalizeShutdown,
			} {
				stage := stage
				b.Handle(stage, func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
					mu.Lock()
					defer mu.Unlock()
					stages = append(stages, moduleName+"."+stage)
					return nil, nil
				})
			}
			b.Handle(module.EventExit, func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
				exits.Add(1)
				return nil, nil
			})
			return b
		}
	}

	eng := New()
	eng.Register("a", stageRecorder("a"))
	eng.Register("b", stageRecorder("b"))

	ctx, stop := startEngine(t, eng)

	// A second exit trigger must not re-run the shutdown stages.
	require.NoError(t, eng.TriggerEvent(ctx, "exit", testMeta(eng), nil))
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"a.deactivate", "b.deactivate",
		"a.initiate_shutdown", "b.initiate_shutdown",
		"a.finalize_shutdown", "b.finalize_shutdown",
	}, stages)
	assert.Equal(t, int32(2*2), exits.Load())
}

func TestNestedDispatchFromHandler(t *testing.T) {
	eng := New()
	eng.Register("svc", func(name string, core module.Core) module.Module {
		b := module.NewBase(name, core, module.Hooks{})
		b.SetOwner(b)
		b.Handle("inner", func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			return "inner result", nil
		})
		b.Handle("outer", func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			// Runs on the dispatcher; the nested call must execute
			// inline instead of deadlocking on the bridge.
			return core.ExecTask(ctx, "svc.inner", md, nil)
		})
		return b
	})

	ctx, stop := startEngine(t, eng)

	res, err := eng.ExecTask(ctx, "svc.outer", testMeta(eng), nil)
	require.NoError(t, err)
	assert.Equal(t, "inner result", res)

	require.NoError(t, stop())
}

func TestAdmissionBackoffMakesProgress(t *testing.T) {
	var ran atomic.Int32

	eng := New()
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"slow": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			time.Sleep(20 * time.Millisecond)
			ran.Add(1)
			return nil, nil
		},
	}))

	ctx, stop := startEngine(t, eng)

	// One registered module allows two concurrent tasks before admission
	// starts backing off; the rest are admitted as capacity frees up.
	for i := 0; i < 6; i++ {
		require.NoError(t, eng.ExecTaskAsync(ctx, "svc.slow", testMeta(eng), nil))
	}

	require.NoError(t, stop())
	assert.Equal(t, int32(6), ran.Load())
}

func TestAdmissionCeilingAdmitsSaturatedDispatch(t *testing.T) {
	release := make(chan struct{})
	var admitted atomic.Bool

	eng := New()
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"block": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, nil
		},
		"note": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			admitted.Store(true)
			return nil, nil
		},
	}))

	ctx, stop := startEngine(t, eng)

	// Wait for the lifecycle loop tasks to finish so the admission math
	// below sees only the blocked tasks.
	require.Eventually(t, func() bool { return eng.RunningTasks() == 0 },
		time.Second, time.Millisecond)

	// Saturate: one registered module allows two running tasks before
	// backoff kicks in, so three blocked tasks hold the gate shut.
	for i := 0; i < 3; i++ {
		require.NoError(t, eng.ExecTaskAsync(ctx, "svc.block", testMeta(eng), nil))
	}
	require.Eventually(t, func() bool { return eng.RunningTasks() == 3 },
		time.Second, time.Millisecond)

	// Capacity never frees up, so the dispatch must ride the backoff to
	// its ceiling and then proceed unconditionally.
	start := time.Now()
	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.note", testMeta(eng), nil))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 4*time.Second)
	assert.Eventually(t, func() bool { return admitted.Load() },
		time.Second, time.Millisecond)

	close(release)
	require.NoError(t, stop())
}

func TestCancelDuringExitWaitReportsCancellation(t *testing.T) {
	eng := New()
	eng.Register("svc", withHandlers(map[string]module.HandlerFunc{
		"hang": func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
			<-ctx.Done()
			return nil, nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.NoError(t, eng.ExecTaskAsync(ctx, "svc.hang", testMeta(eng), nil))
	require.NoError(t, eng.TriggerEvent(ctx, "exit", testMeta(eng), nil))

	// The exit wait now parks on the hanging task. Cancelling must
	// surface as a cancellation, not as a graceful drain.
	require.Eventually(t, func() bool { return eng.Exiting() },
		2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
}
