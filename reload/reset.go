package reload

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/buckets"
)

// BucketReset purges bucket state when rules change. Stale buckets would
// otherwise keep tokens above a lowered capacity, or windows that no
// longer match the rule, until store TTLs expired them.
type BucketReset struct {
	store   buckets.Store
	timeout time.Duration
	log     zerolog.Logger
}

func NewBucketReset(store buckets.Store, log zerolog.Logger) *BucketReset {
	return &BucketReset{
		store:   store,
		timeout: 30 * time.Second,
		log:     log,
	}
}

// OnReload implements Listener.
func (r *BucketReset) OnReload(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if event.Full() {
		if err := r.store.DeleteAll(ctx); err != nil {
			r.log.Error().Err(err).Msg("failed to purge all buckets after reload")
		}
		return
	}

	if err := r.store.DeleteRuleSet(ctx, event.RuleSetID); err != nil {
		r.log.Error().Err(err).Str("rule_set", event.RuleSetID).Msg("failed to purge buckets after reload")
	}
}
