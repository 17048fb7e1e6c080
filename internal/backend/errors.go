package backend

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a generation failure.
type Kind string

const (
	// KindRateLimit means the provider rejected the call for quota reasons.
	KindRateLimit Kind = "rate_limit"
	// KindTimeout means the call did not complete in time.
	KindTimeout Kind = "timeout"
	// KindBackend means the provider failed or returned garbage.
	KindBackend Kind = "backend"
	// KindInvalid means the request itself is broken and will never succeed.
	KindInvalid Kind = "invalid"
)

// Error is a classified generation failure. Retryable drives the retry loop;
// the message ends up in the task record for the operator.
type Error struct {
	Kind      Kind
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited builds a retryable quota error.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimit, Retryable: true, Message: message}
}

// Timeout builds a retryable timeout error.
func Timeout(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Retryable: true, Message: message, Err: err}
}

// Unavailable builds a retryable provider error.
func Unavailable(message string, err error) *Error {
	return &Error{Kind: KindBackend, Retryable: true, Message: message, Err: err}
}

// Invalid builds a permanent request error.
func Invalid(message string) *Error {
	return &Error{Kind: KindInvalid, Retryable: false, Message: message}
}

// IsRetryable reports whether another attempt could succeed. Classified
// errors carry the answer; cancellation never retries; anything else is
// assumed transient.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
