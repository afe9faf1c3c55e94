package storage

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence is matched by every PersistenceError.
	ErrPersistence = errors.New("persistence error")
)

// PersistenceError reports a failed write or read against a backing store.
type PersistenceError struct {
	Op  string // operation, e.g. "merge_upsert"
	Key string // record key, if any
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }
