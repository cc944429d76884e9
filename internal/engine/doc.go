// Package engine implements the roundhouse dispatch and lifecycle core.
//
// The engine hosts the registered modules and coordinates everything they
// do: direct method calls, fire-and-forget tasks, and event broadcasts,
// all under a single dispatcher goroutine.
//
// ARCHITECTURE:
//
// Single-Dispatcher Loop:
// Run drives one goroutine that pulls items from the work queue and
// services cross-goroutine submissions. This is the only goroutine that
// processes queue items, performs broadcasts, and decides termination.
// Module handlers dispatched asynchronously execute in their own tracked
// goroutines; their shared state (task sets, registry) is mutex-guarded.
//
// Cross-Goroutine Bridge:
// Every public operation (ExecTask, BroadcastEvent, EnqueueTask,
// TriggerEvent) may be called from any goroutine. Calls made from within
// the dispatcher (recognizable by a context mark) run inline; calls
// from elsewhere are submitted over a channel and the caller blocks on a
// reply. Exactly one dispatcher-side execution happens per public call,
// and the calling goroutine never touches dispatcher-owned state.
//
// Lifecycle:
//  1. Run broadcasts "startup" then "activate" synchronously, in
//     registration order, each module awaited before the next.
//  2. The loop processes queue items: targets containing "." are
//     dispatched as asynchronous method calls, bare targets as event
//     broadcasts.
//  3. Whenever the queue is observed empty, finished tasks are reclaimed
//     and "becoming_idle" is broadcast. If the exit flag is set, the loop
//     waits for all running tasks (still servicing bridge calls) and
//     terminates once none remain, re-checked at every idle cycle, since
//     in-flight handlers may spawn new work after the flag is set.
//  4. Broadcasting "on_exit" sets the exit flag exactly once and runs the
//     shutdown stages "deactivate", "initiate_shutdown",
//     "finalize_shutdown" synchronously, barrier-ordered across all
//     modules.
//
// Failure isolation:
// A failing or panicking handler in an asynchronous task never reaches
// the dispatcher. The completion path logs the failure and appends a
// record to the configured failure sinks; every other module keeps
// running. Synchronous invocations propagate their error to the caller,
// which opted out of the task wrapper.
package engine
