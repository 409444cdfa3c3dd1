package store

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrTerminal is returned when a write targets a completed or cancelled task.
	ErrTerminal = errors.New("task is completed or cancelled")
	// ErrConflict is returned when a guarded update matched no row because
	// another writer got there first.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrOutOfOrder is returned when a goal task is completed before a
	// lower-order sibling.
	ErrOutOfOrder = errors.New("previous goal tasks are not completed")
)
