package scan

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrScanNotFound is returned when a scan id does not exist or was soft-deleted
var ErrScanNotFound = errors.New("scan not found")

// ErrInvalidTransition is returned when a decision is not allowed from the current state
var ErrInvalidTransition = errors.New("invalid verification transition")

// ValidationError reports malformed input to an operation. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// RetrievalError wraps a store failure while querying candidates or scans
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed (%s): %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a storage deadline
func (e *RetrievalError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// StorageError wraps a store failure while writing
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failed (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a storage deadline
func (e *StorageError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// DuplicateError is returned when the same collaborator submits the same image twice
type DuplicateError struct {
	ExistingID string
	ScannedAt  time.Time
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate scan: sheet already submitted as %s on %s",
		e.ExistingID, e.ScannedAt.Format(time.RFC3339))
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
