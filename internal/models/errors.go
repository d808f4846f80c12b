package models

import (
	"errors"
	"fmt"
)

// ErrNotFound means a referenced record does not exist. Callers are expected
// to leave the flow rather than show an error.
var ErrNotFound = errors.New("not found")

// ErrMutationFailed matches any MutationError via errors.Is.
var ErrMutationFailed = errors.New("mutation failed")

// MutationError wraps a failure from the persistence layer. The cause is
// passed through untouched; no retry is attempted.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMutationFailed) match.
func (e *MutationError) Is(target error) bool { return target == ErrMutationFailed }
