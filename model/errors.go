package model

import (
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure into the closed taxonomy named in
// the provider contract: AuthenticationFailed, RateLimited(retry-after?),
// ContextLengthExceeded, ModelNotFound, NetworkError, ProviderUnavailable,
// InvalidRequest.
type ErrorKind string

const (
	ErrorAuthenticationFailed  ErrorKind = "authentication-failed"
	ErrorRateLimited           ErrorKind = "rate-limited"
	ErrorContextLengthExceeded ErrorKind = "context-length-exceeded"
	ErrorModelNotFound         ErrorKind = "model-not-found"
	ErrorNetworkError          ErrorKind = "network-error"
	ErrorProviderUnavailable   ErrorKind = "provider-unavailable"
	ErrorInvalidRequest        ErrorKind = "invalid-request"
)

// Error is a typed provider failure. It crosses package boundaries so the
// agent loop can classify and react (§4.8) without string matching.
type Error struct {
	Provider string
	Kind     ErrorKind
	Message  string

	// RetryAfter is set only for ErrorRateLimited when the provider declared
	// a cooldown.
	RetryAfter time.Duration

	cause error
}

// NewError constructs a typed provider Error.
func NewError(provider string, kind ErrorKind, message string, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.Kind == ErrorRateLimited && e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s): %s", e.Provider, e.Kind, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether this kind is transient: RateLimited,
// NetworkError and ProviderUnavailable. The turn loop retries only
// RateLimited and NetworkError itself; it surfaces ProviderUnavailable to
// the caller, which may fail over to another provider.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorRateLimited, ErrorNetworkError, ErrorProviderUnavailable:
		return true
	default:
		return false
	}
}
