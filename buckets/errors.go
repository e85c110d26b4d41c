package buckets

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedScriptResult is returned when the store's atomic script
	// replies with an unexpected shape. This is a programming error.
	ErrMalformedScriptResult = errors.New("malformed script result")
)

func NewInvalidPermitsError(permits int64) error {
	return fmt.Errorf("permits must be at least 1, got %d", permits)
}

func NewConsumeFailedError(key string, err error) error {
	return fmt.Errorf("token consumption failed for '%s': %w", key, err)
}

func NewPurgeFailedError(pattern string, err error) error {
	return fmt.Errorf("bucket purge failed for pattern '%s': %w", pattern, err)
}
