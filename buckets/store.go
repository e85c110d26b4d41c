package buckets

import (
	"context"
	"time"

	"github.com/OpenFluxGate/fluxgate/rules"
)

// State is the outcome of one atomic consumption attempt.
type State struct {
	Consumed        bool
	Remaining       int64
	WaitNanos       int64 // time until enough tokens refill; 0 when consumed
	ResetTimeMillis int64 // epoch millis when the bucket is expected full enough
	NewBucket       bool
}

// WaitDuration returns the refill wait as a duration.
func (s State) WaitDuration() time.Duration {
	return time.Duration(s.WaitNanos)
}

// Store performs atomic per-bucket token accounting on a shared store.
// Implementations guarantee 0 <= tokens <= capacity after every operation
// and never modify persisted state on a rejected consumption.
type Store interface {
	// TryConsume atomically refills the bucket from store time and takes
	// permits tokens if available. Rejections are read-only.
	TryConsume(ctx context.Context, bucketKey string, band rules.Band, permits int64) (State, error)

	// DeleteRuleSet purges every bucket belonging to a rule set using
	// incremental scanning.
	DeleteRuleSet(ctx context.Context, ruleSetID string) error

	// DeleteAll purges every bucket this framework owns.
	DeleteAll(ctx context.Context) error

	// Ping probes the underlying store.
	Ping(ctx context.Context) error
}

// ValidateConsume checks TryConsume preconditions shared by all
// implementations.
func ValidateConsume(band rules.Band, permits int64) error {
	if permits < 1 {
		return NewInvalidPermitsError(permits)
	}
	return band.Validate()
}
