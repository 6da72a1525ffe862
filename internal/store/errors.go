package store

import "fmt"

// StorageError wraps a local persistence failure. Writes are all-or-nothing,
// so a StorageError never leaves a record partially written; retrying is the
// caller's decision.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
