package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a notesync error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrSinkUnavailable   ErrorCode = "SINK_UNAVAILABLE"
	ErrMalformedRecord   ErrorCode = "MALFORMED_RECORD"
	ErrLocked            ErrorCode = "LOCKED"
	ErrCheckpointFailure ErrorCode = "CHECKPOINT_FAILURE"
	ErrInternal          ErrorCode = "INTERNAL"
)

// SyncError represents a structured error with code and details.
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *SyncError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates an error for invalid operator input.
func NewInvalidRequest(msg string) *SyncError {
	return &SyncError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewSourceUnavailable wraps a database failure.
func NewSourceUnavailable(op string, err error) *SyncError {
	return &SyncError{
		Code:    ErrSourceUnavailable,
		Message: fmt.Sprintf("%s: %v", op, err),
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewSinkUnavailable wraps a search index failure.
func NewSinkUnavailable(op string, err error) *SyncError {
	return &SyncError{
		Code:    ErrSinkUnavailable,
		Message: fmt.Sprintf("%s: %v", op, err),
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewMalformedRecord reports a row whose required column was NULL.
func NewMalformedRecord(id, column string) *SyncError {
	return &SyncError{
		Code:    ErrMalformedRecord,
		Message: fmt.Sprintf("note %q has NULL %s", id, column),
		Details: map[string]any{"id": id, "column": column},
	}
}

// NewLocked reports that another process holds the sync lock.
func NewLocked(key, holder string) *SyncError {
	return &SyncError{
		Code:    ErrLocked,
		Message: fmt.Sprintf("lock %q is held by %s", key, holder),
		Details: map[string]any{"key": key, "holder": holder},
	}
}

// NewCheckpointFailure wraps a checkpoint store failure.
func NewCheckpointFailure(op string, err error) *SyncError {
	return &SyncError{
		Code:    ErrCheckpointFailure,
		Message: fmt.Sprintf("%s: %v", op, err),
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *SyncError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SyncError{
		Code:    ErrInternal,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err is, or wraps, a SyncError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SyncError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
