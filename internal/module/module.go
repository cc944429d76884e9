// Package module defines the capability interface implemented by
// application modules and a reusable Base with the standard module
// lifecycle state machine.
//
// A module is a named unit exposing handlers, functions resolved by
// name, for both direct method calls (target "module.handler") and
// broadcast events (bare event name). Modules never call each other
// directly; all interaction flows through the dispatcher via the Core
// entry points.
package module

import (
	"context"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
)

// Args carries the keyword arguments of a dispatched call or event.
type Args map[string]any

// HandlerFunc is a module handler. Handlers may block; asynchronous
// dispatch runs them in their own goroutine with the engine's run context.
type HandlerFunc func(ctx context.Context, md metadata.Metadata, args Args) (any, error)

// Module is the capability interface for registered modules.
//
// Handler resolves a handler by name; the second result is false when the
// module does not implement the named handler. Modules need not implement
// every event they receive; unresolved handlers during broadcast are
// tolerated silently.
type Module interface {
	// Name returns the registered module name.
	Name() string

	// Handler resolves a handler function by name.
	Handler(name string) (HandlerFunc, bool)

	// Ready reports whether the module accepts dispatched calls.
	Ready() bool
}

// Factory constructs a module instance bound to the dispatcher entry
// points. Called by the registry during registration.
type Factory func(name string, core Core) Module

// Core is the narrow view of the dispatcher offered to modules.
// All methods are safe to call from any goroutine.
type Core interface {
	// ExecTask executes target ("module.handler") synchronously and
	// returns the handler result.
	ExecTask(ctx context.Context, target string, md metadata.Metadata, args Args) (any, error)

	// ExecTaskAsync starts target as a tracked fire-and-forget task.
	ExecTaskAsync(ctx context.Context, target string, md metadata.Metadata, args Args) error

	// EnqueueTask queues target for later execution by the run loop.
	EnqueueTask(ctx context.Context, target string, md metadata.Metadata, args Args) error

	// TriggerEvent queues event (prefixed with "on_") for broadcasting.
	TriggerEvent(ctx context.Context, event string, md metadata.Metadata, args Args) error

	// BroadcastEvent immediately delivers event (prefixed with "on_")
	// to every module except the metadata source, each delivery as a
	// fire-and-forget task.
	BroadcastEvent(ctx context.Context, event string, md metadata.Metadata, args Args) error

	// BroadcastEventSync delivers event like BroadcastEvent but awaits
	// each handler in registration order. Handler failures propagate.
	BroadcastEventSync(ctx context.Context, event string, md metadata.Metadata, args Args) error

	// StartHandler starts a single module handler as a tracked task,
	// applying admission control. Used by Base to run the passive and
	// active loops with engine-side failure isolation.
	StartHandler(ctx context.Context, m Module, handler string, md metadata.Metadata, args Args) (Handle, error)

	// Tokens returns the generator used to mint transaction tokens.
	Tokens() metadata.TokenGenerator
}

// Handle refers to a tracked asynchronous task.
type Handle interface {
	// Done is closed when the task has completed.
	Done() <-chan struct{}

	// Err returns the task failure, if any. Valid only after Done.
	Err() error
}

// Invoke resolves and calls the named handler on m.
//
// Returns *UnknownHandlerError when m does not implement name. The caller
// decides whether that is worth logging: dispatch paths log it, broadcast
// paths swallow it.
func Invoke(ctx context.Context, m Module, name string, md metadata.Metadata, args Args) (any, error) {
	h, ok := m.Handler(name)
	if !ok {
		return nil, &UnknownHandlerError{Module: m.Name(), Handler: name}
	}
	return h(ctx, md, args)
}
