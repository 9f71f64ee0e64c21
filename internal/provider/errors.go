package provider

import (
	"errors"
	"strings"
)

// ErrAuthRevoked marks a terminal, per-account authentication failure.
// The session cannot be resumed; a fresh handshake is required.
var ErrAuthRevoked = errors.New("authentication revoked")

// RateLimitError signals provider-side throttling. Severity steers how
// aggressively the caller backs off.
type RateLimitError struct {
	Severity string // "low", "medium", "high"
	Detail   string
}

func (e *RateLimitError) Error() string {
	if e.Detail == "" {
		return "provider rate limit (" + e.Severity + ")"
	}
	return "provider rate limit (" + e.Severity + "): " + e.Detail
}

// TransientError wraps a recoverable network-level failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsAuthRevoked(err error) bool {
	return errors.Is(err, ErrAuthRevoked)
}

func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// AsRateLimit extracts the throttling detail when err is a rate limit.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}

// IsRecoverable reports whether a send failure may succeed on a later
// attempt. Typed errors are checked first; the string fallback covers
// adapters that surface raw provider messages.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthRevoked(err) {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "network", "rate", "temporar", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
