package domain

import (
	"errors"
	"fmt"
)

// ErrorKind names a client-visible rejection reason. The string value is
// what the HTTP endpoint returns in {"error": "..."}.
type ErrorKind string

const (
	KindMissingField        ErrorKind = "MissingField"
	KindMalformedURL        ErrorKind = "MalformedURL"
	KindTimestampOutOfRange ErrorKind = "TimestampOutOfRange"
	// KindMalformedBody is reported when the body is not a JSON object.
	KindMalformedBody ErrorKind = "MalformedBody"
)

// ValidationError rejects a single capture event.
type ValidationError struct {
	Kind   ErrorKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(kind ErrorKind, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: reason}
}

// Ingestion errors. Their messages double as the HTTP error codes.
var (
	ErrQueueFull          = errors.New("QueueFull")
	ErrShutdownInProgress = errors.New("ShutdownInProgress")
	// ErrConsumerBufferFull is never returned to senders; the dispatcher
	// logs and counts it when it drops a consumer's oldest item.
	ErrConsumerBufferFull = errors.New("ConsumerBufferFull")
)

// KindOf returns the ErrorKind carried by err, or "" when err is not a
// ValidationError.
func KindOf(err error) ErrorKind {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Kind
	}
	return ""
}
