package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// AuthError means the token is expired, revoked, or unrefreshable.
// It aborts the whole sync pass and flags the connection for
// re-authorization.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Reason)
}

// RateLimitError means the provider throttled the call. RetryAfter is
// zero when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// NetworkError wraps transport failures and provider 5xx responses,
// including timeouts.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Provider, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying failure was a timeout.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// MappingError means one remote item's payload could not be converted.
// The item is skipped and recorded; the pass continues.
type MappingError struct {
	Provider string
	EventID  string
	Reason   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: cannot map event %s: %s", e.Provider, e.EventID, e.Reason)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Retryable reports whether err is transient: rate limits, network
// failures, and timeouts are retried with backoff before being
// recorded; everything else fails immediately.
func Retryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
