package backends

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrProviderNotFound is returned when attempting to create a provider
	// with an unknown ID.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrInvalidConfig is returned when the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid provider configuration")
)

// connErrorStrings contains string patterns used to identify
// connectivity-related errors. Operational errors like "NOSCRIPT" or
// "WRONGTYPE" are intentionally excluded; they must not trigger retries
// or health-based fail-open.
//
// The patterns are matched against the lowercase error message using
// string containment.
var connErrorStrings = []string{
	"connection refused",
	"connection timeout",
	"connection reset",
	"network is unreachable",
	"no such host",
	"timeout",
	"i/o timeout",
	"broken pipe",
	"connection pool exhausted",
	"closed network connection",
}

// IsConnError reports whether err looks like a transient connectivity
// failure (retryable with backoff).
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrorStrings {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsScriptMissing reports whether err is the store telling us a script
// invoked by digest is not in its script cache (store restart or flush).
func IsScriptMissing(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "NOSCRIPT")
}
