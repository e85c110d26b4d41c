// Package limiter evaluates a rule set against one request by composing
// atomic bucket consumptions. Evaluation is fail-fast: the first rejecting
// band stops the walk so rules ordered after it never get debited.
package limiter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/buckets"
	"github.com/OpenFluxGate/fluxgate/rules"
)

// MetricsRecorder observes verdicts. Implementations must be cheap and
// thread-safe; they run on the request path.
type MetricsRecorder interface {
	RecordAllowed(ruleSetID string)
	RecordRejected(ruleSetID, ruleID string)
}

// RateLimiter composes the bucket store, the key resolver and an optional
// metrics hook.
type RateLimiter struct {
	store    buckets.Store
	resolver rules.KeyResolver
	metrics  MetricsRecorder
	log      zerolog.Logger
}

type Option func(*RateLimiter)

// WithKeyResolver overrides the default scope resolver. A rule set carrying
// its own resolver still wins over this one.
func WithKeyResolver(resolver rules.KeyResolver) Option {
	return func(r *RateLimiter) {
		r.resolver = resolver
	}
}

func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *RateLimiter) {
		r.metrics = metrics
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *RateLimiter) {
		r.log = log
	}
}

func New(store buckets.Store, opts ...Option) *RateLimiter {
	r := &RateLimiter{
		store:    store,
		resolver: rules.DefaultKeyResolver{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryConsume evaluates every enabled rule of the set in order. All bands of
// a rule must admit before the next rule is consulted; the first rejecting
// band short-circuits the whole evaluation.
func (r *RateLimiter) TryConsume(ctx context.Context, reqCtx rules.RequestContext, ruleSet rules.RuleSet, permits int64) (Result, error) {
	if len(ruleSet.Rules) == 0 {
		return Result{Allowed: true, Remaining: UnknownRemaining}, nil
	}

	resolver := ruleSet.Resolver
	if resolver == nil {
		resolver = r.resolver
	}

	minRemaining := int64(-1)
	minReset := int64(0)
	evaluated := false

	for i := range ruleSet.Rules {
		rule := &ruleSet.Rules[i]
		if !rule.Enabled {
			continue
		}

		keyValue := resolver.Resolve(reqCtx, *rule)
		for _, band := range rule.Bands {
			bucketKey := buckets.Key(ruleSet.ID, rule.ID, keyValue, band.EffectiveLabel())
			state, err := r.store.TryConsume(ctx, bucketKey, band, permits)
			if err != nil {
				return Result{}, err
			}

			evaluated = true
			if minRemaining < 0 || state.Remaining < minRemaining {
				minRemaining = state.Remaining
				minReset = state.ResetTimeMillis
			}

			if !state.Consumed {
				result := Result{
					Allowed:         false,
					MatchedRule:     rule,
					MatchedBand:     band,
					MatchedKey:      bucketKey,
					Remaining:       state.Remaining,
					WaitNanos:       state.WaitNanos,
					ResetTimeMillis: state.ResetTimeMillis,
					Policy:          rule.ExceedPolicy(),
				}
				r.recordRejected(ruleSet.ID, rule.ID)
				r.log.Debug().
					Str("rule_set", ruleSet.ID).
					Str("rule", rule.ID).
					Str("key", bucketKey).
					Int64("wait_nanos", state.WaitNanos).
					Msg("rate limit exceeded")
				return result, nil
			}
		}
	}

	if !evaluated {
		return Result{Allowed: true, Remaining: UnknownRemaining}, nil
	}

	r.recordAllowed(ruleSet.ID)
	return Result{
		Allowed:         true,
		Remaining:       minRemaining,
		ResetTimeMillis: minReset,
	}, nil
}

func (r *RateLimiter) recordAllowed(ruleSetID string) {
	if r.metrics != nil {
		r.metrics.RecordAllowed(ruleSetID)
	}
}

func (r *RateLimiter) recordRejected(ruleSetID, ruleID string) {
	if r.metrics != nil {
		r.metrics.RecordRejected(ruleSetID, ruleID)
	}
}
