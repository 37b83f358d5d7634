package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	err := &SyncError{
		Code:    ErrInvalidRequest,
		Message: "batch size must be positive",
	}

	expected := "INVALID_REQUEST: batch size must be positive"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewSourceUnavailable(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewSourceUnavailable("fetch batch", cause)

	if err.Code != ErrSourceUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrSourceUnavailable)
	}
	if err.Details["op"] != "fetch batch" {
		t.Errorf("Details[op] = %v, want %q", err.Details["op"], "fetch batch")
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected error to unwrap to its cause")
	}
}

func TestNewSinkUnavailable(t *testing.T) {
	err := NewSinkUnavailable("add documents", fmt.Errorf("503"))

	if err.Code != ErrSinkUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrSinkUnavailable)
	}
	if err.Message != "add documents: 503" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewMalformedRecord(t *testing.T) {
	err := NewMalformedRecord("9abc000000", "userId")

	if err.Code != ErrMalformedRecord {
		t.Errorf("Code = %q, want %q", err.Code, ErrMalformedRecord)
	}
	if err.Details["column"] != "userId" {
		t.Errorf("Details[column] = %v, want userId", err.Details["column"])
	}
}

func TestNewLocked(t *testing.T) {
	err := NewLocked("notesync:lock:notes", "abc")

	if err.Code != ErrLocked {
		t.Errorf("Code = %q, want %q", err.Code, ErrLocked)
	}
	if err.Details["holder"] != "abc" {
		t.Errorf("Details[holder] = %v, want abc", err.Details["holder"])
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}

	err = NewInternal(fmt.Errorf("boom"))
	if err.Message != "boom" {
		t.Errorf("Message = %q, want %q", err.Message, "boom")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewInvalidRequest("x"), ErrInvalidRequest, true},
		{"different code", NewInvalidRequest("x"), ErrInternal, false},
		{"wrapped", fmt.Errorf("run: %w", NewLocked("k", "h")), ErrLocked, true},
		{"plain error", fmt.Errorf("plain"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
