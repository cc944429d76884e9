package module

// Lifecycle event names. Broadcasting one of these invokes the handler of
// the same name on every registered module (split horizon excluded).
const (
	// EventStartup initializes modules. Broadcast synchronously, in
	// registration order, before anything else runs.
	EventStartup = "startup"

	// EventActivate moves modules into their active state. Broadcast
	// synchronously right after startup.
	EventActivate = "activate"

	// EventDeactivate is the first shutdown stage: active loops stop.
	EventDeactivate = "deactivate"

	// EventInitiateShutdown is the second shutdown stage: modules go
	// inactive and passive loops stop.
	EventInitiateShutdown = "initiate_shutdown"

	// EventFinalizeShutdown is the last shutdown stage: final cleanup.
	EventFinalizeShutdown = "finalize_shutdown"

	// EventBecomingIdle is broadcast every time the work queue is
	// observed empty.
	EventBecomingIdle = "becoming_idle"

	// EventExit is the terminal event. Broadcasting it sets the exit
	// flag and runs the three shutdown stages above, strictly in order.
	EventExit = "on_exit"
)

// EventPrefix is prepended to event names by TriggerEvent, so triggering
// "exit" broadcasts "on_exit".
const EventPrefix = "on_"

// TargetSeparator splits a qualified call target into module and handler.
// A target without it is a broadcast event name.
const TargetSeparator = "."

// Internal handler names bound by Base for its passive and active loops.
const (
	handlerRunPassive = "run_passive"
	handlerRunActive  = "run_active"
)
