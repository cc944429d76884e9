package engine

import (
	"errors"
	"fmt"
)

// DispatchError reports a non-fatal dispatch problem: the target named a
// module that is unknown or not ready, or the dispatcher is no longer
// accepting work.
//
// These are typed results, not crashes: the dispatcher logs them and
// keeps running. Callers that care can test the code with the helper
// predicates; callers that do not can treat the call as a no-op.
type DispatchError struct {
	// Code identifies the error category.
	Code DispatchErrorCode

	// Target is the call target or event name as submitted.
	Target string

	// Module is the module name extracted from the target, if any.
	Module string
}

// DispatchErrorCode categorizes dispatch errors.
type DispatchErrorCode string

const (
	// ErrCodeUnknownModule indicates the target names no registered module.
	ErrCodeUnknownModule DispatchErrorCode = "UNKNOWN_MODULE"

	// ErrCodeModuleInactive indicates the module exists but is not ready.
	ErrCodeModuleInactive DispatchErrorCode = "MODULE_INACTIVE"

	// ErrCodeQueueClosed indicates the work queue no longer accepts items.
	ErrCodeQueueClosed DispatchErrorCode = "QUEUE_CLOSED"

	// ErrCodeStopped indicates the dispatcher has terminated.
	ErrCodeStopped DispatchErrorCode = "DISPATCHER_STOPPED"
)

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%s: target %q (module %q)", e.Code, e.Target, e.Module)
	}
	return fmt.Sprintf("%s: target %q", e.Code, e.Target)
}

// IsUnknownModule reports whether err carries ErrCodeUnknownModule.
// Uses errors.As to handle wrapped errors.
func IsUnknownModule(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == ErrCodeUnknownModule
}

// IsModuleInactive reports whether err carries ErrCodeModuleInactive.
func IsModuleInactive(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == ErrCodeModuleInactive
}

// IsStopped reports whether err indicates the dispatcher or its queue has
// shut down.
func IsStopped(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && (de.Code == ErrCodeStopped || de.Code == ErrCodeQueueClosed)
}
