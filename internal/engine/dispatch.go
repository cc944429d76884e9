package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/roundhouse-dev/roundhouse/internal/faultlog"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// faultRecord builds the sink record for a failed task.
func faultRecord(t *Task, md metadata.Metadata) faultlog.Failure {
	return faultlog.Failure{
		Time:        time.Now(),
		Transaction: md.Transaction,
		Module:      t.Module,
		Handler:     t.Handler,
		Seq:         t.Seq,
		Err:         t.err.Error(),
		Stack:       t.stack,
	}
}

// dispatcherKey marks contexts owned by the dispatcher goroutine.
// Handlers invoked synchronously by the dispatcher receive a marked
// context; the bridge uses the mark to decide between inline execution
// and submit-then-wait.
type dispatcherKey struct{}

func withDispatcher(ctx context.Context) context.Context {
	return context.WithValue(ctx, dispatcherKey{}, true)
}

func isDispatcher(ctx context.Context) bool {
	v, _ := ctx.Value(dispatcherKey{}).(bool)
	return v
}

// bridgeCall is one operation marshalled onto the dispatcher goroutine.
type bridgeCall struct {
	fn    func(ctx context.Context) (any, error)
	reply chan bridgeResult
}

type bridgeResult struct {
	value any
	err   error
}

func (c *bridgeCall) run(sctx context.Context) {
	v, err := c.fn(sctx)
	// reply is buffered; the dispatcher never blocks here even if the
	// caller abandoned the wait.
	c.reply <- bridgeResult{value: v, err: err}
}

// do executes fn on the dispatcher goroutine: inline when already there,
// otherwise via submit-then-wait. Exactly one dispatcher-side execution
// happens per call.
func (e *Engine) do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if isDispatcher(ctx) {
		return fn(ctx)
	}

	call := &bridgeCall{fn: fn, reply: make(chan bridgeResult, 1)}

	select {
	case e.calls <- call:
	case <-e.done:
		return nil, &DispatchError{Code: ErrCodeStopped}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-call.reply:
		return res.value, res.err
	case <-e.done:
		// Dispatcher terminated after accepting but before running the
		// call; drain the reply if it raced ahead.
		select {
		case res := <-call.reply:
			return res.value, res.err
		default:
			return nil, &DispatchError{Code: ErrCodeStopped}
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecTask executes target ("module.handler") synchronously and returns
// the handler result. Safe from any goroutine.
func (e *Engine) ExecTask(ctx context.Context, target string, md metadata.Metadata, args module.Args) (any, error) {
	return e.do(ctx, func(sctx context.Context) (any, error) {
		return e.execTask(sctx, target, md, false, args)
	})
}

// ExecTaskAsync starts target as a tracked fire-and-forget task.
// Safe from any goroutine.
func (e *Engine) ExecTaskAsync(ctx context.Context, target string, md metadata.Metadata, args module.Args) error {
	_, err := e.do(ctx, func(sctx context.Context) (any, error) {
		return e.execTask(sctx, target, md, true, args)
	})
	return err
}

// EnqueueTask queues target for asynchronous execution by the run loop.
// Safe from any goroutine.
func (e *Engine) EnqueueTask(ctx context.Context, target string, md metadata.Metadata, args module.Args) error {
	_, err := e.do(ctx, func(context.Context) (any, error) {
		slog.Debug("enqueuing task", "target", target, "tx", md.Transaction)
		if !e.queue.Put(Item{Target: target, Meta: md, Args: args}) {
			return nil, &DispatchError{Code: ErrCodeQueueClosed, Target: target}
		}
		return nil, nil
	})
	return err
}

// TriggerEvent queues event, prefixed with "on_", for broadcasting by the
// run loop. Safe from any goroutine.
func (e *Engine) TriggerEvent(ctx context.Context, event string, md metadata.Metadata, args module.Args) error {
	target := module.EventPrefix + event
	_, err := e.do(ctx, func(context.Context) (any, error) {
		slog.Debug("triggering event", "event", target, "tx", md.Transaction)
		if !e.queue.Put(Item{Target: target, Meta: md, Args: args}) {
			return nil, &DispatchError{Code: ErrCodeQueueClosed, Target: target}
		}
		return nil, nil
	})
	return err
}

// BroadcastEvent immediately delivers event, prefixed with "on_", to
// every registered module except the metadata source, each delivery as a
// fire-and-forget task. Safe from any goroutine.
func (e *Engine) BroadcastEvent(ctx context.Context, event string, md metadata.Metadata, args module.Args) error {
	target := module.EventPrefix + event
	_, err := e.do(ctx, func(sctx context.Context) (any, error) {
		return nil, e.broadcast(sctx, target, md, true, args)
	})
	return err
}

// BroadcastEventSync delivers event like BroadcastEvent but awaits each
// handler in registration order before moving to the next module.
// Handler failures propagate to the caller. Safe from any goroutine.
func (e *Engine) BroadcastEventSync(ctx context.Context, event string, md metadata.Metadata, args module.Args) error {
	target := module.EventPrefix + event
	_, err := e.do(ctx, func(sctx context.Context) (any, error) {
		return nil, e.broadcast(sctx, target, md, false, args)
	})
	return err
}

// StartHandler starts a single module handler as a tracked task.
// Implements the module.Core contract; unknown handlers are logged.
func (e *Engine) StartHandler(ctx context.Context, m module.Module, handler string, md metadata.Metadata, args module.Args) (module.Handle, error) {
	return e.startHandler(ctx, m, handler, true, md, args)
}

// execTask resolves and runs a qualified call target.
// Dispatcher-goroutine only (callers go through the bridge).
func (e *Engine) execTask(sctx context.Context, target string, md metadata.Metadata, async bool, args module.Args) (any, error) {
	slog.Debug("executing task", "target", target, "async", async, "tx", md.Transaction)

	modName, handlerName, _ := strings.Cut(target, module.TargetSeparator)
	m, known := e.registry.Lookup(modName)
	if !known {
		slog.Error("task targets unknown module", "target", target)
		return nil, &DispatchError{Code: ErrCodeUnknownModule, Target: target, Module: modName}
	}
	if !m.Ready() {
		slog.Error("task targets inactive module", "target", target)
		return nil, &DispatchError{Code: ErrCodeModuleInactive, Target: target, Module: modName}
	}

	if async {
		_, err := e.startHandler(sctx, m, handlerName, true, md, args)
		return nil, err
	}

	res, err := module.Invoke(sctx, m, handlerName, md, args)
	if module.IsUnknownHandler(err) {
		slog.Error("task targets unknown handler", "target", target)
	}
	return res, err
}

// broadcast delivers event to every registered module except the
// metadata source, in registration order. With async true each delivery
// is a fire-and-forget task; otherwise each handler is awaited and a
// failure stops the loop and propagates.
//
// Broadcasting the terminal on_exit event additionally sets the exit
// flag, exactly once, and runs the three shutdown stages synchronously.
// Dispatcher-goroutine only.
func (e *Engine) broadcast(sctx context.Context, event string, md metadata.Metadata, async bool, args module.Args) error {
	slog.Debug("broadcasting event", "event", event, "async", async, "source", md.SourceName)

	for _, m := range e.registry.Modules() {
		// Split horizon: the emitting module never receives its own
		// broadcast.
		if md.Source != nil && md.Source == m {
			continue
		}

		if async {
			// Skip modules that do not implement the event rather than
			// admitting a task that would resolve to nothing.
			if _, ok := m.Handler(event); !ok {
				continue
			}
			if _, err := e.startHandler(sctx, m, event, false, md, args); err != nil {
				return err
			}
			continue
		}

		if _, err := module.Invoke(sctx, m, event, md, args); err != nil {
			// Modules need not implement every event.
			if module.IsUnknownHandler(err) {
				continue
			}
			return fmt.Errorf("broadcast %q to module %q: %w", event, m.Name(), err)
		}
	}

	if event == module.EventExit {
		// The compare-and-swap guards against a re-broadcast of on_exit
		// re-running the shutdown stages.
		if e.exit.CompareAndSwap(false, true) {
			slog.Info("exit requested, broadcasting shutdown sequence")
			for _, stage := range []string{
				module.EventDeactivate,
				module.EventInitiateShutdown,
				module.EventFinalizeShutdown,
			} {
				if err := e.broadcast(sctx, stage, e.newMetadata(), false, args); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// startHandler admits and starts one handler invocation as a tracked
// task. Safe from any goroutine: the task sets are mutex-guarded, and
// the admission wait suspends only the dispatching caller.
func (e *Engine) startHandler(ctx context.Context, m module.Module, handler string, logUnknown bool, md metadata.Metadata, args module.Args) (*Task, error) {
	e.waitForTaskSlot(ctx)

	t := newTask(m.Name(), handler, e.clock.Next())
	e.tasks.start(t)
	slog.Debug("task started", "module", t.Module, "handler", t.Handler, "seq", t.Seq)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				t.err = fmt.Errorf("handler panicked: %v", p)
				t.stack = debug.Stack()
			}
			e.completeTask(t, md)
		}()

		res, err := module.Invoke(e.taskContext(), m, handler, md, args)
		if module.IsUnknownHandler(err) {
			// Tolerated: broadcasts reach modules that do not implement
			// the event, and that is not a failure.
			if logUnknown {
				slog.Error("handler unknown in module", "module", m.Name(), "handler", handler)
			}
			err = nil
		}
		t.result = res
		t.err = err
	}()

	return t, nil
}

// completeTask is the completion callback: atomically moves the task
// from running to finished, then surfaces any failure: a log entry plus
// one record per configured sink. Failures never propagate further.
func (e *Engine) completeTask(t *Task, md metadata.Metadata) {
	e.tasks.complete(t)
	close(t.done)

	if t.err == nil {
		slog.Debug("task finished", "module", t.Module, "handler", t.Handler, "seq", t.Seq)
		return
	}

	slog.Error("task failed",
		"module", t.Module,
		"handler", t.Handler,
		"seq", t.Seq,
		"tx", md.Transaction,
		"error", t.err,
	)

	for _, sink := range e.sinks {
		fail := faultRecord(t, md)
		if err := sink.Record(fail); err != nil {
			slog.Error("failure sink write failed", "error", err)
		}
	}
}

// waitForTaskSlot applies advisory admission control: when the running
// set exceeds twice the module count, back off exponentially (1ms
// doubling, capped at 1s) until the count drops to the module count.
// Once the ceiling is reached the caller proceeds regardless, so
// backpressure never deadlocks.
func (e *Engine) waitForTaskSlot(ctx context.Context) {
	if e.tasks.RunningLen() <= 2*e.registry.Len() {
		return
	}

	slog.Info("waiting for free task slot", "running", e.tasks.RunningLen())
	sleep := time.Millisecond
	for e.tasks.RunningLen() > e.registry.Len() {
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if sleep < time.Second {
			sleep *= 2
			continue
		}
		slog.Warn("starting task after long admission wait; check for long-running tasks")
		break
	}
}

// taskContext is the parent context for task goroutines: the run context
// without the dispatcher mark, so handler code calling public operations
// goes through the bridge.
func (e *Engine) taskContext() context.Context {
	if ctx := e.runCtx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}
