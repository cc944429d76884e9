package module

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
)

// State is the lifecycle state of a module.
type State int32

const (
	// StateInactive: not started or already shut down.
	StateInactive State = iota + 1
	// StatePassive: started, reacts to calls and events, initiates no work.
	StatePassive
	// StateActive: fully running, may initiate new tasks and events.
	StateActive
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StatePassive:
		return "passive"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Hooks are the user-supplied extension points of a Base module.
// All hooks are optional.
type Hooks struct {
	// Init runs once during the startup broadcast, before the passive
	// loop starts. An error fails the module's startup handler.
	Init func(ctx context.Context, md metadata.Metadata) error

	// RunPassive is the module's passive loop. Started as a tracked task
	// during startup; expected to return once the module leaves the
	// ready states (watch Ready or ctx).
	RunPassive func(ctx context.Context, md metadata.Metadata) error

	// RunActive is the module's active loop. Started as a tracked task
	// during activation; expected to return once the module leaves the
	// active state (watch Active or ctx).
	RunActive func(ctx context.Context, md metadata.Metadata) error
}

// Base implements Module with the standard lifecycle state machine:
//
//	inactive --startup--> passive --activate--> active
//	active --deactivate--> passive --initiate_shutdown--> inactive
//
// Concrete modules embed *Base, bind their handlers with Handle, and
// supply Hooks for the passive/active loops. Base binds the lifecycle
// handlers itself; a concrete module may rebind any of them.
//
// Thread-safety: the state is atomic; handlers are bound during
// construction and read-only afterwards.
type Base struct {
	name  string
	core  Core
	hooks Hooks
	state atomic.Int32

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	// owner is the outermost module value, used as the metadata source so
	// split-horizon comparisons match the registry-stored instance.
	// Defaults to the Base itself.
	owner Module
}

// NewBase creates a Base in the inactive state with the lifecycle
// handlers bound.
func NewBase(name string, core Core, hooks Hooks) *Base {
	b := &Base{
		name:     name,
		core:     core,
		hooks:    hooks,
		handlers: make(map[string]HandlerFunc),
	}
	b.state.Store(int32(StateInactive))

	b.Handle(EventStartup, b.onStartup)
	b.Handle(EventActivate, b.onActivate)
	b.Handle(EventDeactivate, b.onDeactivate)
	b.Handle(EventInitiateShutdown, b.onInitiateShutdown)
	b.Handle(EventFinalizeShutdown, b.onFinalizeShutdown)
	b.Handle(handlerRunPassive, b.runPassive)
	b.Handle(handlerRunActive, b.runActive)

	return b
}

// SetOwner records the outermost module value embedding this Base.
// Modules that embed Base should call this once after construction so
// that metadata created by the helper emitters carries the instance the
// registry knows about.
func (b *Base) SetOwner(m Module) { b.owner = m }

// Name returns the registered module name.
func (b *Base) Name() string { return b.name }

// Handle binds a handler under the given name, replacing any previous
// binding. Call during construction only.
func (b *Base) Handle(name string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// Handler resolves a bound handler by name.
func (b *Base) Handler(name string) (HandlerFunc, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handlers[name]
	return h, ok
}

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// Ready reports whether the module accepts dispatched calls
// (passive or active).
func (b *Base) Ready() bool {
	s := b.State()
	return s == StatePassive || s == StateActive
}

// Active reports whether the module is in the active state.
func (b *Base) Active() bool { return b.State() == StateActive }

func (b *Base) setState(s State) {
	b.state.Store(int32(s))
	slog.Debug("module state changed", "module", b.name, "state", s.String())
}

func (b *Base) self() Module {
	if b.owner != nil {
		return b.owner
	}
	return b
}

// newMetadata mints provenance pointing at this module.
func (b *Base) newMetadata() metadata.Metadata {
	return metadata.New(b.core.Tokens(), b.self(), b.name)
}

// onStartup runs Init, enters the passive state, and starts the passive
// loop as a tracked task. The state changes here, on the broadcasting
// goroutine, so that an activate broadcast following the startup barrier
// always observes a passive module regardless of when the loop task gets
// scheduled.
func (b *Base) onStartup(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	if b.hooks.Init != nil {
		if err := b.hooks.Init(ctx, b.newMetadata()); err != nil {
			return nil, err
		}
	}
	b.setState(StatePassive)
	if _, err := b.core.StartHandler(ctx, b.self(), handlerRunPassive, b.newMetadata(), nil); err != nil {
		return nil, err
	}
	return nil, nil
}

// onActivate enters the active state and starts the active loop as a
// tracked task; see onStartup for why the state changes here rather than
// inside the loop.
func (b *Base) onActivate(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	if b.State() == StatePassive {
		b.setState(StateActive)
	} else {
		slog.Warn("activating module that was not passive", "module", b.name, "state", b.State().String())
	}
	if _, err := b.core.StartHandler(ctx, b.self(), handlerRunActive, b.newMetadata(), nil); err != nil {
		return nil, err
	}
	return nil, nil
}

// onDeactivate drops back to the passive state, which tells the active
// loop to return.
func (b *Base) onDeactivate(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	if b.State() == StateActive {
		b.setState(StatePassive)
	}
	return nil, nil
}

// onInitiateShutdown goes inactive, which tells the passive loop to
// return. The loop tasks are not awaited here: this handler runs on the
// dispatcher during a synchronous broadcast, and a loop that is
// mid-submission through the bridge would never finish while the
// dispatcher is parked here. The dispatcher's exit wait collects every
// running task before the lifecycle terminates, so Base does not keep
// the handles.
func (b *Base) onInitiateShutdown(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	b.setState(StateInactive)
	return nil, nil
}

// onFinalizeShutdown is the final cleanup stage. Nothing to release;
// see onInitiateShutdown for who collects the loop tasks.
func (b *Base) onFinalizeShutdown(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	return nil, nil
}

// runPassive runs the RunPassive hook; the passive state was entered by
// onStartup before this task was admitted.
func (b *Base) runPassive(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	if b.hooks.RunPassive == nil {
		return nil, nil
	}
	return nil, b.hooks.RunPassive(ctx, md)
}

// runActive runs the RunActive hook; the active state was entered by
// onActivate before this task was admitted.
func (b *Base) runActive(ctx context.Context, md metadata.Metadata, args Args) (any, error) {
	if b.hooks.RunActive == nil {
		return nil, nil
	}
	return nil, b.hooks.RunActive(ctx, md)
}
