package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no question matches the requested band.
	ErrNotFound = errors.New("no matching question")
	// ErrSessionNotFound means the assessment session does not exist.
	ErrSessionNotFound = errors.New("assessment session not found")
	// ErrConflict means the session was completed or modified concurrently.
	ErrConflict = errors.New("assessment session changed concurrently")
	// ErrAlreadyResolved means the open question was already answered or timed out.
	ErrAlreadyResolved = errors.New("question already resolved")
)

// ValidationError rejects malformed input. Session state is unchanged.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NewValidationError builds a ValidationError with a machine code.
func NewValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// WriteError wraps a failed append or update against the assessment store.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps a failed read against the question or assessment store.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
