package module

import (
	"errors"
	"fmt"
)

// UnknownHandlerError reports that a module does not implement a handler.
//
// This is a typed, non-fatal condition: broadcast delivery tolerates it
// silently (modules need not implement every event), while direct dispatch
// logs it and returns an empty result to the caller.
type UnknownHandlerError struct {
	Module  string
	Handler string
}

// Error implements the error interface.
func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("handler %q unknown in module %q", e.Handler, e.Module)
}

// IsUnknownHandler reports whether err is an UnknownHandlerError.
// Uses errors.As to handle wrapped errors.
func IsUnknownHandler(err error) bool {
	var ue *UnknownHandlerError
	return errors.As(err, &ue)
}
