package limiter

import (
	"time"

	"github.com/OpenFluxGate/fluxgate/rules"
)

// UnknownRemaining marks a verdict that touched no bucket (empty rule set,
// missing rule set under fail-open). Header emitters omit the remaining
// count when they see it.
const UnknownRemaining = int64(-1)

// Result is the verdict of one rule-set evaluation.
type Result struct {
	Allowed         bool
	MatchedRule     *rules.Rule // rejecting rule, nil when allowed
	MatchedBand     rules.Band  // rejecting band, zero when allowed
	MatchedKey      string      // bucket key of the rejecting band
	Remaining       int64       // minimum remaining across consulted bands
	WaitNanos       int64       // time until a retry can succeed
	ResetTimeMillis int64       // epoch millis of expected availability
	Policy          rules.Policy
}

// WaitDuration returns the refill wait as a duration.
func (r Result) WaitDuration() time.Duration {
	return time.Duration(r.WaitNanos)
}

// RetryAfterMillis returns the wait rounded up to whole milliseconds.
func (r Result) RetryAfterMillis() int64 {
	if r.WaitNanos <= 0 {
		return 0
	}
	return (r.WaitNanos + int64(time.Millisecond) - 1) / int64(time.Millisecond)
}

// AllowedWithoutRule is the fail-open verdict for a missing rule set.
func AllowedWithoutRule() Result {
	return Result{Allowed: true, Remaining: UnknownRemaining}
}
