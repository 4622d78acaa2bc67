package repository

import "errors"

// ErrVersionConflict is returned when an optimistic-concurrency write
// loses the race: the expense row was modified between read and write.
// Callers surface this as an invalid-state conflict, never retry blindly.
var ErrVersionConflict = errors.New("expense was modified concurrently")

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")
