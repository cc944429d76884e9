package harness

import (
	"context"
	"errors"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// Recorder is a scripted module that appends every delivery it receives
// to the shared trace. Event reactions and handler replies come from the
// scenario's ModuleSpec.
type Recorder struct {
	*module.Base
	trace *Trace
}

// newRecorder returns a factory building a Recorder for spec.
func newRecorder(spec ModuleSpec, trace *Trace) module.Factory {
	return func(name string, core module.Core) module.Module {
		r := &Recorder{trace: trace}
		r.Base = module.NewBase(name, core, module.Hooks{})
		r.SetOwner(r)

		for _, ev := range spec.Events {
			r.Handle(module.EventPrefix+ev.On, r.eventHandler(ev))
		}
		for _, h := range spec.Handlers {
			r.Handle(h.Name, r.callHandler(h))
		}
		return r
	}
}

// eventHandler records the delivery, then performs the scripted
// reaction: emit a follow-up broadcast or fail.
func (r *Recorder) eventHandler(ev EventSpec) module.HandlerFunc {
	return func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
		r.trace.record(r.Name(), module.EventPrefix+ev.On, md, args)

		if ev.Fail != "" {
			return nil, errors.New(ev.Fail)
		}
		if ev.Emit != "" {
			// Synchronous so nested deliveries land in the trace before
			// the enclosing broadcast moves to the next module.
			return nil, r.BroadcastEventSync(ctx, ev.Emit, ev.EmitArgs)
		}
		return nil, nil
	}
}

// callHandler records the delivery and returns the canned reply.
func (r *Recorder) callHandler(h HandlerSpec) module.HandlerFunc {
	return func(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
		r.trace.record(r.Name(), h.Name, md, args)

		if h.Fail != "" {
			return nil, errors.New(h.Fail)
		}
		return h.Reply, nil
	}
}
