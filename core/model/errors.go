package model

import (
	"errors"
	"fmt"
)

// ErrNotFound means the entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden means the actor lacks permission. It deliberately carries no
// hint about whether the entity exists.
var ErrForbidden = errors.New("not authorized")

// ValidationError reports a malformed payload: a missing required field, a
// value outside its enum, or a bad coordinate shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a well-formed request whose from-state does
// not permit the requested to-state on the named axis.
type InvalidTransitionError struct {
	Axis string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %q to %q", e.Axis, e.From, e.To)
}
