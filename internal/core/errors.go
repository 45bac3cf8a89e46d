package core

import (
	"errors"
	"fmt"
)

// InvocationErrorKind classifies tool invoker failures.
type InvocationErrorKind string

const (
	// RetriableError covers network failures, provider 5xx, and rate limits.
	RetriableError InvocationErrorKind = "RetriableError"
	// FatalError covers provider 4xx (except rate limit) and argument
	// validation failures.
	FatalError InvocationErrorKind = "FatalError"
)

// InvocationError is a classified failure from the tool invoker.
type InvocationError struct {
	Kind    InvocationErrorKind
	Message string
	Status  int // HTTP-ish status when known, 0 otherwise
}

// Error implements error.
func (e *InvocationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewRetriableError creates a retriable invocation error.
func NewRetriableError(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: RetriableError, Message: fmt.Sprintf(format, args...)}
}

// NewFatalError creates a fatal invocation error.
func NewFatalError(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: FatalError, Message: fmt.Sprintf(format, args...)}
}

// IsRetriable reports whether err should be retried by the executor. Unknown
// error types are treated as retriable (network-level failures usually
// surface as plain errors).
func IsRetriable(err error) bool {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind == RetriableError
	}
	return true
}

var (
	// ErrWorkflowNotFound is returned by workflow stores for unknown
	// (workflow_id, version) pairs.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrScheduleNotFound is returned by schedule stores for unknown ids.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrRunNotFound is returned by run stores for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrDuplicateKey is returned on primary-key conflicts; callers rely on
	// it for exactly-once inserts.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrLeaseHeld is returned when a lease is already owned elsewhere.
	ErrLeaseHeld = errors.New("lease held by another owner")
)
