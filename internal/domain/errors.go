package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrReferrerNotFound reports that the claimed referrer has no user record.
	// It is an expected outcome, not a storage failure.
	ErrReferrerNotFound = errors.New("referrer not found")

	// ErrUserNotFound reports a lookup miss for a chat identity.
	ErrUserNotFound = errors.New("user not found")
)

// StorageError wraps a persistence-layer failure with the operation that
// produced it. Callers match it with errors.As and decide how to degrade.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError constructs a StorageError for the given operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
