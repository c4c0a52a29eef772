// Package apperr defines the error taxonomy shared by the backup, restore and
// integrity components.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a snapshot or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccidentalDuplicate is returned when an insert looks like a
	// double submission of a recent transaction.
	ErrAccidentalDuplicate = errors.New("accidental duplicate")

	// ErrConcurrent is returned when a single-flight operation is already running.
	ErrConcurrent = errors.New("operation already in progress")
)

// Kind classifies failures for callers that need to react differently to
// validation, storage and batch problems.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindStorage      Kind = "storage"
	KindPartialBatch Kind = "partial_batch"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Completed is the number of items processed before a partial batch failure.
	Completed int
}

func (e *Error) Error() string {
	if e.Kind == KindPartialBatch {
		return fmt.Sprintf("%s: %s after %d items: %v", e.Op, e.Kind, e.Completed, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StorageFailure wraps err as an inability to reach a store.
func StorageFailure(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// ValidationFailure wraps err as malformed input.
func ValidationFailure(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// PartialBatchFailure reports that a multi-batch job stopped after completed items.
func PartialBatchFailure(op string, completed int, err error) error {
	return &Error{Kind: KindPartialBatch, Op: op, Err: err, Completed: completed}
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
