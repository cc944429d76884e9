package harness

import (
	"sync"

	"github.com/roundhouse-dev/roundhouse/internal/metadata"
	"github.com/roundhouse-dev/roundhouse/internal/module"
	"github.com/roundhouse-dev/roundhouse/internal/testutil"
)

// TraceEvent records one delivery observed by a recorder module.
type TraceEvent struct {
	// Seq is the harness-local delivery order, starting at 1.
	Seq int64 `json:"seq"`

	// Module and Handler name the receiving invocation.
	Module  string `json:"module"`
	Handler string `json:"handler"`

	// Source is the metadata source name of the delivery.
	Source string `json:"source"`

	// Transaction is the metadata token of the delivery. Excluded from
	// golden snapshots: token assignment interleaves with the
	// dispatcher's own housekeeping broadcasts.
	Transaction string `json:"transaction,omitempty"`

	// Args are the delivery arguments.
	Args map[string]any `json:"args,omitempty"`
}

// Target returns the "module.handler" form used by assertions.
func (e TraceEvent) Target() string {
	return e.Module + module.TargetSeparator + e.Handler
}

// Trace accumulates deliveries across all recorder modules of one
// scenario run. Safe for concurrent use, though scenarios built from
// synchronous steps record strictly sequentially.
type Trace struct {
	mu     sync.Mutex
	clock  *testutil.DeterministicClock
	events []TraceEvent
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{clock: testutil.NewDeterministicClock()}
}

func (tr *Trace) record(moduleName, handler string, md metadata.Metadata, args module.Args) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, TraceEvent{
		Seq:         tr.clock.Next(),
		Module:      moduleName,
		Handler:     handler,
		Source:      md.SourceName,
		Transaction: md.Transaction,
		Args:        args,
	})
}

// Events returns a copy of the recorded deliveries in order.
func (tr *Trace) Events() []TraceEvent {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]TraceEvent, len(tr.events))
	copy(out, tr.events)
	return out
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall success: every step expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains all recorded deliveries in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
