package autopilot

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("caller is not allowed to perform this operation")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrLockConflict = errors.New("run is locked by another execution")
	ErrValidation   = errors.New("validation failed")
)

// StateError reports a transition attempted from an incompatible status.
type StateError struct {
	Entity  string
	ID      string
	Op      string
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %q", e.Entity, e.ID, e.Op, e.Current)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
