package engine

import (
	"sync"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// Item is one unit of queued work: a qualified method call
// ("module.handler") or a broadcast event (bare name), with the
// provenance and arguments it was submitted with. Each item is consumed
// exactly once by the dispatcher's item processor.
type Item struct {
	Target string
	Meta   metadata.Metadata
	Args   module.Args
}

// itemQueue is a thread-safe FIFO queue for work items.
//
// The queue is unbounded so cascading handlers can enqueue arbitrarily
// many follow-on items without blocking; admission control happens at
// task start, not at enqueue.
//
// A buffered signal channel (size 1, coalescing) lets the dispatcher
// wait for availability without busy-looping, and doubles as the close
// notification: Close closes the channel, waking all waiters.
type itemQueue struct {
	mu     sync.Mutex
	items  []Item
	closed bool
	signal chan struct{}
}

func newItemQueue() *itemQueue {
	return &itemQueue{
		items:  make([]Item, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Put adds an item to the back of the queue.
// Thread-safe; returns false if the queue is closed.
func (q *itemQueue) Put(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
func (q *itemQueue) TryDequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}

	item := q.items[0]

	// Nil out the slot so the backing array does not retain the item's
	// metadata and argument references until reallocation.
	q.items[0] = Item{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when items may be available.
// Use with select alongside context cancellation; after a wakeup, call
// TryDequeue again.
func (q *itemQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *itemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes all waiters.
// Subsequent Puts return false; already-queued items stay readable.
func (q *itemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
