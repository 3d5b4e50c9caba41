package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvableIdentity means a record lacks enough signal to be matched
	// or created safely. The record is skipped, never guessed.
	ErrUnresolvableIdentity = errors.New("unresolvable identity")

	// ErrInsufficientData means too few comparables exist to form an opinion.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvariantViolation means stored history contradicts itself, for
	// example two open price intervals. Fatal for that listing's update.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrStaleChangeSet means the canonical row moved on between diff and apply.
	ErrStaleChangeSet = errors.New("stale change-set")

	// ErrNotFound is returned by lookups of a single record.
	ErrNotFound = errors.New("not found")
)

// TransientError wraps a failure of an external collaborator (timeout, 5xx,
// throttling) that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
