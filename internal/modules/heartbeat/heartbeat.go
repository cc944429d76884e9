// Package heartbeat provides a stock active module that triggers a
// periodic "heartbeat" event while active. It doubles as the reference
// implementation of a module built on module.Base.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Second

// Heartbeat triggers an "on_heartbeat" broadcast every interval while
// the module is active. The event args carry the running beat count.
type Heartbeat struct {
	*module.Base
	interval time.Duration
	beats    atomic.Int64
}

// New returns a factory for a heartbeat module with the given interval.
// A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration) module.Factory {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return func(name string, core module.Core) module.Module {
		h := &Heartbeat{interval: interval}
		h.Base = module.NewBase(name, core, module.Hooks{
			RunActive: h.runActive,
		})
		h.SetOwner(h)
		h.Handle("count", h.count)
		return h
	}
}

// runActive is the active loop: trigger a heartbeat event per tick until
// the module is deactivated.
func (h *Heartbeat) runActive(ctx context.Context, md metadata.Metadata) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for h.Active() {
		select {
		case <-ticker.C:
			if !h.Active() {
				return nil
			}
			n := h.beats.Add(1)
			if err := h.TriggerEvent(ctx, "heartbeat", module.Args{"count": n}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// count answers "heartbeat.count" calls with the number of beats so far.
func (h *Heartbeat) count(ctx context.Context, md metadata.Metadata, args module.Args) (any, error) {
	return h.beats.Load(), nil
}
