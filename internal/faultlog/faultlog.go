// Package faultlog persists records of unrecovered task failures.
//
// The dispatcher fully isolates failures at the task boundary: a failing
// handler is logged and, when a sink is configured, recorded here. It
// never halts the scheduler or other modules. Two sinks are provided: an
// append-only text file (one timestamped entry per failure) and a SQLite
// store for queryable fault history.
//
// Fault records are diagnostics, not event durability; queued work is
// still lost on restart.
package faultlog

import (
	"fmt"
	"os"
	"time"
)

// Failure describes one unrecovered task failure.
type Failure struct {
	// Time is when the completion callback observed the failure.
	Time time.Time

	// Transaction is the metadata token of the dispatch that failed.
	Transaction string

	// Module and Handler name the failing invocation.
	Module  string
	Handler string

	// Seq is the task's admission sequence number.
	Seq int64

	// Err is the failure message.
	Err string

	// Stack is the goroutine stack trace, present when the handler
	// panicked rather than returning an error.
	Stack []byte
}

// Sink receives failure records. Implementations must be safe for
// concurrent use; task completions happen on arbitrary goroutines.
type Sink interface {
	Record(f Failure) error
	Close() error
}

// FileSink appends failures to a text file: ISO timestamp, one line of
// context, the error, and the stack trace when present, separated by a
// blank line. The file is opened append-only and created if missing.
type FileSink struct {
	f *os.File
}

// NewFileSink opens (or creates) the failure log at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FileSink{f: f}, nil
}

// Record appends one entry. Entries are written with a single Write call
// each; interleaving between concurrent recorders keeps entries whole.
func (s *FileSink) Record(fail Failure) error {
	entry := fmt.Sprintf("%s\n%s.%s seq=%d tx=%s\n%s\n",
		fail.Time.Format("2006-01-02 15:04:05.000000"),
		fail.Module, fail.Handler, fail.Seq, fail.Transaction,
		fail.Err,
	)
	if len(fail.Stack) > 0 {
		entry += string(fail.Stack) + "\n"
	}
	entry += "\n"

	if _, err := s.f.WriteString(entry); err != nil {
		return fmt.Errorf("append failure entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.f.Close()
}
