package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/roundhouse-dev/roundhouse/internal/faultlog"
	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
	"github.com/roundhouse-dev/roundhouse/internal/registry"
)

// Engine is the dispatch and lifecycle core.
//
// Thread-safety model:
//   - Register: call before Run; late registration is tolerated.
//   - Run: must be called from exactly one goroutine.
//   - All public operations (ExecTask, ExecTaskAsync, EnqueueTask,
//     TriggerEvent, BroadcastEvent, BroadcastEventSync, StartHandler):
//     safe from any goroutine.
//
// INVARIANTS:
//   - Queue items are processed, broadcasts delivered, and termination
//     decided only on the Run goroutine.
//   - The exit flag is set exactly once per run and never unset.
//   - A tracked task is in exactly one of {running, finished} from
//     admission to reclamation.
type Engine struct {
	registry *registry.Registry
	queue    *itemQueue
	tasks    *taskSet
	clock    *Clock
	tokens   metadata.TokenGenerator
	sinks    []faultlog.Sink

	// calls carries bridge submissions from other goroutines.
	calls chan *bridgeCall

	// done is closed when Run returns; it unblocks bridge callers that
	// would otherwise wait forever on a terminated dispatcher.
	done chan struct{}

	exit   atomic.Bool
	runCtx atomic.Pointer[context.Context]
}

// Option configures the engine.
type Option func(*Engine)

// WithTokenGenerator overrides the transaction token generator.
// Tests use metadata.NewFixedGenerator for deterministic tokens.
func WithTokenGenerator(gen metadata.TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// WithFailureSink attaches a sink receiving one record per unrecovered
// task failure. May be given multiple times.
func WithFailureSink(sink faultlog.Sink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, sink)
	}
}

// New creates an engine with no modules registered.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: registry.New(),
		queue:    newItemQueue(),
		tasks:    newTaskSet(),
		clock:    NewClock(),
		tokens:   metadata.UUIDv7Generator{},
		calls:    make(chan *bridgeCall),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register constructs a module via factory and stores it under name.
// Re-registering a name overwrites the module, keeping its original
// iteration position (last write wins, silently).
func (e *Engine) Register(name string, factory module.Factory) {
	e.registry.Register(name, factory(name, e))
	slog.Debug("module registered", "module", name)
}

// Registry exposes readiness and lookup queries.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Tokens returns the transaction token generator.
// Implements the module.Core contract.
func (e *Engine) Tokens() metadata.TokenGenerator {
	return e.tokens
}

// Exiting reports whether the terminal on_exit event has been broadcast.
func (e *Engine) Exiting() bool {
	return e.exit.Load()
}

// QueueLen returns the number of pending queue items.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// RunningTasks returns the number of tasks currently running.
func (e *Engine) RunningTasks() int {
	return e.tasks.RunningLen()
}

// newMetadata mints provenance for engine-originated broadcasts.
func (e *Engine) newMetadata() metadata.Metadata {
	return metadata.New(e.tokens, e, "dispatcher")
}

// Run drives the dispatcher until shutdown.
//
// Startup: "startup" then "activate" are broadcast synchronously, each
// module awaited in registration order. Then the loop processes queue
// items and bridge submissions until the idle step reports termination:
// exit flag set and zero tasks running, re-verified at every idle cycle.
// A cancelled context aborts the loop, closes the queue, and cancels
// outstanding task handlers through the shared run context.
//
// Must be called from exactly one goroutine, once.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx.Store(&ctx)
	defer close(e.done)

	sctx := withDispatcher(ctx)
	slog.Info("dispatcher starting", "modules", e.registry.Len())

	if err := e.broadcast(sctx, module.EventStartup, e.newMetadata(), false, nil); err != nil {
		return err
	}
	if err := e.broadcast(sctx, module.EventActivate, e.newMetadata(), false, nil); err != nil {
		return err
	}

	err := e.runLoop(sctx)

	// Final reclamation: nothing in flight is silently dropped.
	e.gatherFinished()
	slog.Info("dispatcher stopped")
	return err
}

// runLoop is the main loop: drain the queue, service bridge calls, and
// run the idle step whenever the queue is observed empty.
func (e *Engine) runLoop(sctx context.Context) error {
	for {
		item, ok := e.queue.TryDequeue()
		if ok {
			e.processItem(sctx, item)
			continue
		}

		// Prefer pending bridge calls over going idle.
		select {
		case call := <-e.calls:
			call.run(sctx)
			continue
		default:
		}

		// Queue observed empty.
		if e.queueIdle(sctx) {
			e.queue.Close()
			// The idle step also reports done on cancellation, with
			// tasks possibly still running; that is not a drain.
			if err := sctx.Err(); err != nil {
				slog.Info("dispatcher stopping: context cancelled")
				return err
			}
			slog.Info("dispatcher stopping: queue drained and no tasks running")
			return nil
		}

		select {
		case <-sctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			e.queue.Close()
			return sctx.Err()

		case call := <-e.calls:
			call.run(sctx)

		case <-e.queue.Wait():
			// Items may be available; loop back to TryDequeue.
		}
	}
}

// processItem consumes one queue item: qualified targets become
// asynchronous method calls, bare targets become event broadcasts.
// Processing failures are logged and the loop continues.
func (e *Engine) processItem(sctx context.Context, item Item) {
	var err error
	if strings.Contains(item.Target, module.TargetSeparator) {
		_, err = e.execTask(sctx, item.Target, item.Meta, true, item.Args)
	} else {
		err = e.broadcast(sctx, item.Target, item.Meta, true, item.Args)
	}
	if err != nil {
		slog.Error("queue item failed",
			"target", item.Target,
			"tx", item.Meta.Transaction,
			"source", item.Meta.SourceName,
			"error", err,
		)
	}
}

// queueIdle is the idle step, run every time the queue is observed
// empty: reclaim finished tasks, broadcast becoming_idle, and, when the
// exit flag is set, wait until no tasks remain running. Returns true to
// terminate the loop.
//
// The wait keeps servicing bridge calls (running tasks may still submit
// work) and abandons idleness as soon as a new queue item arrives.
func (e *Engine) queueIdle(sctx context.Context) bool {
	e.gatherFinished()

	if err := e.broadcast(sctx, module.EventBecomingIdle, e.newMetadata(), true, nil); err != nil {
		slog.Error("becoming_idle broadcast failed", "error", err)
	}

	if !e.exit.Load() {
		return false
	}

	for {
		if e.tasks.RunningLen() == 0 {
			return true
		}

		select {
		case call := <-e.calls:
			call.run(sctx)

		case <-e.tasks.Wait():
			// A task completed; re-check the running count.

		case <-e.queue.Wait():
			if e.queue.Len() > 0 {
				// New work arrived; idle no more.
				return false
			}

		case <-sctx.Done():
			return true
		}
	}
}

// gatherFinished collects the outcomes of every finished task and clears
// the set. Reclamation, not isolation: failures were already surfaced by
// the completion callback.
func (e *Engine) gatherFinished() {
	finished := e.tasks.drainFinished()
	for _, t := range finished {
		<-t.Done()
	}
	if len(finished) > 0 {
		slog.Debug("reclaimed finished tasks", "count", len(finished))
	}
}
