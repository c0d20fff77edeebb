package core

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks at the adapter boundary.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("a database error occurred")
)

// NotFoundError reports a missing rack, requirement or batch.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidStateError reports an operation attempted against a rack in the wrong status.
type InvalidStateError struct {
	RackID string
	Status RackStatus
	Want   RackStatus
}

func (e *InvalidStateError) Error() string {
	if e.Status == RackStatusNone {
		return fmt.Sprintf("rack %s is not open", e.RackID)
	}
	if e.Want == RackStatusOpen {
		return fmt.Sprintf("rack %s is not open (status %s)", e.RackID, e.Status)
	}
	return fmt.Sprintf("rack %s cannot move from %s to %s", e.RackID, e.Status, e.Want)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError wraps a ledger store failure. Error() stays generic so storage
// details do not reach callers; Unwrap keeps the cause for logs.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, ErrPersistence)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// classify passes domain errors through untouched and wraps everything else as a PersistenceError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	var is *InvalidStateError
	var ve *ValidationError
	var pe *PersistenceError
	if errors.As(err, &nf) || errors.As(err, &is) || errors.As(err, &ve) || errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
