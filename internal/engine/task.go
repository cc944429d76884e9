package engine

import (
	"sync"
)

// Task is one tracked asynchronous invocation: a module handler running
// in its own goroutine, dispatched through admission control.
//
// A task is a member of exactly one of the dispatcher's two sets,
// running or finished, from its admission until reclamation. The
// transition happens atomically under the set mutex when the handler
// returns (or panics; panics are recovered and recorded as failures).
type Task struct {
	// Module and Handler name the invocation, for logs and fault records.
	Module  string
	Handler string

	// Seq is the logical-clock stamp taken at admission. Creation order
	// of admission is the only ordering guarantee across tasks.
	Seq int64

	done   chan struct{}
	result any
	err    error
	stack  []byte
}

func newTask(moduleName, handler string, seq int64) *Task {
	return &Task{
		Module:  moduleName,
		Handler: handler,
		Seq:     seq,
		done:    make(chan struct{}),
	}
}

// Done is closed when the task has completed and moved to the finished
// set.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task failure, if any. Valid only after Done.
func (t *Task) Err() error { return t.err }

// Result returns the handler result. Valid only after Done.
func (t *Task) Result() any { return t.result }

// taskSet tracks the running and finished task sets.
//
// Thread-safety: all mutations go through the mutex. The dispatcher
// goroutine reclaims; task goroutines complete; any goroutine may read
// the counts (admission control runs wherever the dispatch originated).
type taskSet struct {
	mu       sync.Mutex
	running  map[*Task]struct{}
	finished []*Task

	// signal pulses on every completion so the exit wait can re-check
	// the running count (buffered, size 1, coalescing).
	signal chan struct{}
}

func newTaskSet() *taskSet {
	return &taskSet{
		running: make(map[*Task]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// start admits a task into the running set.
func (s *taskSet) start(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[t] = struct{}{}
}

// complete atomically moves a task from running to finished.
func (s *taskSet) complete(t *Task) {
	s.mu.Lock()
	delete(s.running, t)
	s.finished = append(s.finished, t)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// RunningLen returns the number of running tasks.
func (s *taskSet) RunningLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// FinishedLen returns the number of finished, not yet reclaimed tasks.
func (s *taskSet) FinishedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finished)
}

// Wait returns a channel that signals when a task has completed.
func (s *taskSet) Wait() <-chan struct{} {
	return s.signal
}

// drainFinished returns the finished set and clears it.
func (s *taskSet) drainFinished() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.finished
	s.finished = nil
	return out
}
