package tts

import (
	"context"
	"errors"
	"fmt"
)

// Common request errors
var (
	// ErrEmptyText indicates the request text is blank after trimming
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong indicates the request text exceeds MaxTextLength
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidSpeed indicates speed value is out of range
	ErrInvalidSpeed = errors.New("speed must be greater than 0 and at most 3.0")
)

// Kind identifies the failure class of a synthesis or caching error.
type Kind string

const (
	// KindKeyGeneration means the cache fingerprint could not be derived.
	// It aborts the caching path only.
	KindKeyGeneration Kind = "KEY_GENERATION_FAILED"

	// KindValidation means the backend payload or its delimiter was malformed.
	KindValidation Kind = "VALIDATION_FAILED"

	// KindNetwork means the transport failed. Callers may retry.
	KindNetwork Kind = "NETWORK_FAILED"

	// KindUpstream means the backend answered with a non-success status.
	KindUpstream Kind = "UPSTREAM_FAILED"

	// KindStorage means a cache write or eviction failed. Never surfaced.
	KindStorage Kind = "STORAGE_FAILED"

	// KindCancelled means the caller aborted the request.
	KindCancelled Kind = "CANCELLED"

	// KindInternal is reported for failures that carry no other tag.
	KindInternal Kind = "INTERNAL"
)

// Error represents a tagged synthesis error with additional context
type Error struct {
	Kind    Kind
	Message string
	Status  int // HTTP status for KindUpstream, zero otherwise
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new tagged error
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// UpstreamError creates a KindUpstream error carrying the backend status code
func UpstreamError(status int, message string) *Error {
	return &Error{
		Kind:    KindUpstream,
		Message: message,
		Status:  status,
	}
}

// IsRetryable returns true if the caller may retry the request
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindUpstream:
		return e.Status >= 500 || e.Status == 429
	default:
		return false
	}
}

// KindOf reports the Kind of err. Context cancellation maps to KindCancelled;
// untagged errors report ok == false.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled, true
	}
	return "", false
}

// IsCancelled reports whether err represents a caller-initiated abort.
func IsCancelled(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindCancelled
}
