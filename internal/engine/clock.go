package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping dispatched tasks.
//
// Every task admitted by the dispatcher gets a strictly increasing seq
// number. The seq establishes creation order across asynchronous tasks,
// the only ordering guarantee the dispatcher makes for them, and gives
// fault records and traces a stable sort key that wall clocks cannot.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
