package module

import (
	"context"
	"log/slog"
	"strings"
)

// Helper emitters for concrete modules. Each defaults the metadata to
// (module instance, module name) so split horizon and logging work without
// modules constructing provenance by hand. All are safe from any
// goroutine; the dispatcher's bridge takes care of the handoff.

// ExecTask executes target synchronously through the dispatcher.
func (b *Base) ExecTask(ctx context.Context, target string, args Args) (any, error) {
	return b.core.ExecTask(ctx, target, b.newMetadata(), args)
}

// ExecTaskAsync starts target as a tracked fire-and-forget task.
func (b *Base) ExecTaskAsync(ctx context.Context, target string, args Args) error {
	return b.core.ExecTaskAsync(ctx, target, b.newMetadata(), args)
}

// EnqueueTask queues target for asynchronous execution. Bare targets are
// qualified with the module's own name.
func (b *Base) EnqueueTask(ctx context.Context, target string, args Args) error {
	if !b.Active() {
		slog.Warn("module not active when enqueuing task", "module", b.name, "target", target)
	}
	if !strings.Contains(target, TargetSeparator) {
		target = b.name + TargetSeparator + target
	}
	return b.core.EnqueueTask(ctx, target, b.newMetadata(), args)
}

// TriggerEvent queues an event for broadcasting. An empty event name
// defaults to "<module>_event".
func (b *Base) TriggerEvent(ctx context.Context, event string, args Args) error {
	if !b.Active() {
		slog.Warn("module not active when triggering event", "module", b.name, "event", event)
	}
	if event == "" {
		event = b.name + "_event"
	}
	return b.core.TriggerEvent(ctx, event, b.newMetadata(), args)
}

// BroadcastEvent immediately delivers an event to all other modules.
func (b *Base) BroadcastEvent(ctx context.Context, event string, args Args) error {
	return b.core.BroadcastEvent(ctx, event, b.newMetadata(), args)
}

// BroadcastEventSync delivers an event to all other modules, awaiting
// each handler in registration order.
func (b *Base) BroadcastEventSync(ctx context.Context, event string, args Args) error {
	return b.core.BroadcastEventSync(ctx, event, b.newMetadata(), args)
}
