package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenFluxGate/fluxgate/buckets"
	"github.com/OpenFluxGate/fluxgate/rules"
)

// scriptedStore returns canned states per bucket key and records the order
// keys were consumed in.
type scriptedStore struct {
	mu       sync.Mutex
	states   map[string]buckets.State
	fallback buckets.State
	err      error
	consumed []string
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		states:   map[string]buckets.State{},
		fallback: buckets.State{Consumed: true, Remaining: 50},
	}
}

func (s *scriptedStore) TryConsume(ctx context.Context, bucketKey string, band rules.Band, permits int64) (buckets.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return buckets.State{}, s.err
	}
	s.consumed = append(s.consumed, bucketKey)
	if state, ok := s.states[bucketKey]; ok {
		return state, nil
	}
	return s.fallback, nil
}

func (s *scriptedStore) DeleteRuleSet(ctx context.Context, ruleSetID string) error { return nil }
func (s *scriptedStore) DeleteAll(ctx context.Context) error                       { return nil }
func (s *scriptedStore) Ping(ctx context.Context) error                            { return nil }

type recordingMetrics struct {
	mu       sync.Mutex
	allowed  []string
	rejected []string
}

func (m *recordingMetrics) RecordAllowed(ruleSetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed = append(m.allowed, ruleSetID)
}

func (m *recordingMetrics) RecordRejected(ruleSetID, ruleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, ruleSetID+"/"+ruleID)
}

func twoRuleSet() rules.RuleSet {
	return rules.RuleSet{
		ID: "api-limits",
		Rules: []rules.Rule{
			{
				ID:      "r1",
				Enabled: true,
				Scope:   rules.ScopePerIP,
				Bands:   []rules.Band{{Window: time.Minute, Capacity: 100, Label: "per-min"}},
			},
			{
				ID:      "r2",
				Enabled: true,
				Scope:   rules.ScopeGlobal,
				Bands:   []rules.Band{{Window: time.Hour, Capacity: 1000, Label: "per-hour"}},
			},
		},
	}
}

func TestTryConsume(t *testing.T) {
	ctx := context.Background()
	reqCtx := rules.RequestContext{ClientIP: "203.0.113.10"}

	t.Run("empty rule set admits", func(t *testing.T) {
		r := New(newScriptedStore())
		result, err := r.TryConsume(ctx, reqCtx, rules.RuleSet{ID: "empty"}, 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, UnknownRemaining, result.Remaining)
	})

	t.Run("all disabled admits without touching buckets", func(t *testing.T) {
		store := newScriptedStore()
		set := twoRuleSet()
		set.Rules[0].Enabled = false
		set.Rules[1].Enabled = false

		r := New(store)
		result, err := r.TryConsume(ctx, reqCtx, set, 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, UnknownRemaining, result.Remaining)
		assert.Empty(t, store.consumed)
	})

	t.Run("allowed result carries minimum remaining", func(t *testing.T) {
		store := newScriptedStore()
		store.states["fluxgate:api-limits:r1:203.0.113.10:per-min"] = buckets.State{Consumed: true, Remaining: 7, ResetTimeMillis: 111}
		store.states["fluxgate:api-limits:r2:global:per-hour"] = buckets.State{Consumed: true, Remaining: 900, ResetTimeMillis: 222}

		metrics := &recordingMetrics{}
		r := New(store, WithMetrics(metrics))
		result, err := r.TryConsume(ctx, reqCtx, twoRuleSet(), 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(7), result.Remaining)
		assert.Equal(t, int64(111), result.ResetTimeMillis)
		assert.Equal(t, []string{"api-limits"}, metrics.allowed)
	})

	t.Run("first rejection short-circuits later rules", func(t *testing.T) {
		store := newScriptedStore()
		store.states["fluxgate:api-limits:r1:203.0.113.10:per-min"] = buckets.State{
			Consumed:        false,
			Remaining:       0,
			WaitNanos:       (6 * time.Second).Nanoseconds(),
			ResetTimeMillis: 1_700_000_006_000,
		}

		metrics := &recordingMetrics{}
		r := New(store, WithMetrics(metrics))
		result, err := r.TryConsume(ctx, reqCtx, twoRuleSet(), 1)
		require.NoError(t, err)

		assert.False(t, result.Allowed)
		require.NotNil(t, result.MatchedRule)
		assert.Equal(t, "r1", result.MatchedRule.ID)
		assert.Equal(t, "per-min", result.MatchedBand.Label)
		assert.Equal(t, "fluxgate:api-limits:r1:203.0.113.10:per-min", result.MatchedKey)
		assert.Equal(t, 6*time.Second, result.WaitDuration())
		assert.Equal(t, rules.PolicyReject, result.Policy)

		// r2's bucket was never debited.
		assert.Equal(t, []string{"fluxgate:api-limits:r1:203.0.113.10:per-min"}, store.consumed)
		assert.Equal(t, []string{"api-limits/r1"}, metrics.rejected)
	})

	t.Run("all bands of a rule gate the next rule", func(t *testing.T) {
		store := newScriptedStore()
		set := twoRuleSet()
		set.Rules[0].Bands = append(set.Rules[0].Bands,
			rules.Band{Window: time.Second, Capacity: 5, Label: "burst"})

		r := New(store)
		result, err := r.TryConsume(ctx, reqCtx, set, 1)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, []string{
			"fluxgate:api-limits:r1:203.0.113.10:per-min",
			"fluxgate:api-limits:r1:203.0.113.10:burst",
			"fluxgate:api-limits:r2:global:per-hour",
		}, store.consumed)
	})

	t.Run("store error surfaces", func(t *testing.T) {
		store := newScriptedStore()
		store.err = errors.New("boom")
		r := New(store)
		_, err := r.TryConsume(ctx, reqCtx, twoRuleSet(), 1)
		require.Error(t, err)
	})

	t.Run("rule set resolver wins over default", func(t *testing.T) {
		store := newScriptedStore()
		set := twoRuleSet()
		set.Rules = set.Rules[:1]
		set.Resolver = staticResolver("tenant-a")

		r := New(store)
		_, err := r.TryConsume(ctx, reqCtx, set, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"fluxgate:api-limits:r1:tenant-a:per-min"}, store.consumed)
	})
}

type staticResolver string

func (s staticResolver) Resolve(ctx rules.RequestContext, rule rules.Rule) string {
	return string(s)
}

func TestRetryAfterMillis(t *testing.T) {
	assert.Equal(t, int64(0), Result{}.RetryAfterMillis())
	assert.Equal(t, int64(1), Result{WaitNanos: 1}.RetryAfterMillis())
	assert.Equal(t, int64(1500), Result{WaitNanos: (1500 * time.Millisecond).Nanoseconds()}.RetryAfterMillis())
	assert.Equal(t, int64(1501), Result{WaitNanos: (1500*time.Millisecond + time.Nanosecond).Nanoseconds()}.RetryAfterMillis())
}
