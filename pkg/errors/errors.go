// Package errors defines unified error types for semantic cache operations.
// Provider and storage failures are mapped to these standard kinds so callers
// can decide whether to retry, degrade, or fail loudly.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a cache error.
type Kind string

const (
	// KindValidation marks rejected input (empty prompt/response, malformed
	// invalidation spec). Never retried.
	KindValidation Kind = "validation_error"

	// KindRateLimited marks an embedding provider 429. Retryable after backoff.
	KindRateLimited Kind = "rate_limit_error"

	// KindUnauthorized marks invalid provider credentials. A configuration
	// error, never retryable.
	KindUnauthorized Kind = "authentication_error"

	// KindUnavailable marks a transient provider-side outage (5xx).
	KindUnavailable Kind = "service_unavailable_error"

	// KindProvider marks any other embedding provider failure.
	KindProvider Kind = "provider_error"

	// KindStorage marks a backing store failure. Flips the store into
	// degraded mode rather than propagating to callers.
	KindStorage Kind = "storage_error"
)

// CacheError is the standardized error for cache operations.
type CacheError struct {
	Kind      Kind   `json:"kind"`
	Op        string `json:"op"`
	Message   string `json:"message"`
	Retryable bool   `json:"-"`
	cause     error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CacheError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a CacheError of the same kind.
func (e *CacheError) Is(target error) bool {
	var ce *CacheError
	if !errors.As(target, &ce) {
		return false
	}
	return e.Kind == ce.Kind
}

// NewValidation creates a validation error.
func NewValidation(op, message string) *CacheError {
	return &CacheError{Kind: KindValidation, Op: op, Message: message}
}

// NewRateLimited creates a rate limit error.
func NewRateLimited(op, message string, cause error) *CacheError {
	return &CacheError{Kind: KindRateLimited, Op: op, Message: message, Retryable: true, cause: cause}
}

// NewUnauthorized creates an invalid-credentials error.
func NewUnauthorized(op, message string, cause error) *CacheError {
	return &CacheError{Kind: KindUnauthorized, Op: op, Message: message, cause: cause}
}

// NewUnavailable creates a provider-outage error.
func NewUnavailable(op, message string, cause error) *CacheError {
	return &CacheError{Kind: KindUnavailable, Op: op, Message: message, Retryable: true, cause: cause}
}

// NewProvider creates an opaque provider error.
func NewProvider(op, message string, cause error) *CacheError {
	return &CacheError{Kind: KindProvider, Op: op, Message: message, cause: cause}
}

// NewStorage creates a storage error.
func NewStorage(op, message string, cause error) *CacheError {
	return &CacheError{Kind: KindStorage, Op: op, Message: message, cause: cause}
}

// KindOf returns the kind of err, or "" if err is not a CacheError.
func KindOf(err error) Kind {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsRateLimited reports whether err is a rate limit error.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsUnauthorized reports whether err is an invalid-credentials error.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsUnavailable reports whether err is a provider-outage error.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return KindOf(err) == KindStorage }

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
