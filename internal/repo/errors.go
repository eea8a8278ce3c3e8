package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that a conditional write matched no row because the
	// record was not in the expected state.
	ErrConflict = errors.New("conflict")
)
