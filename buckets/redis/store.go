// Package redis enforces token buckets through an atomic script executed
// on the coordination store. The script is published once at startup and
// invoked by digest afterwards; a store that lost its script cache is
// healed transparently.
package redis

import (
	"context"
	_ "embed"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/backends"
	"github.com/OpenFluxGate/fluxgate/buckets"
	"github.com/OpenFluxGate/fluxgate/internal/backoff"
	"github.com/OpenFluxGate/fluxgate/rules"
)

//go:embed tryconsume.lua
var tryConsumeScript string

// Store implements buckets.Store over a backends.Provider.
type Store struct {
	provider     backends.Provider
	log          zerolog.Logger
	retry        backoff.Policy
	scanBatch    int64
	sha          atomic.Value // string
	republishing atomic.Bool
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func WithRetryPolicy(policy backoff.Policy) Option {
	return func(s *Store) {
		s.retry = policy
	}
}

func WithScanBatchSize(size int64) Option {
	return func(s *Store) {
		s.scanBatch = size
	}
}

// New publishes the consumption script to the store and returns a ready
// Store.
func New(provider backends.Provider, opts ...Option) (*Store, error) {
	s := &Store{
		provider:  provider,
		log:       zerolog.Nop(),
		retry:     backoff.DefaultPolicy(),
		scanBatch: 100,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sha, err := provider.ScriptLoad(ctx, tryConsumeScript)
	if err != nil {
		return nil, err
	}
	s.sha.Store(sha)

	return s, nil
}

func (s *Store) TryConsume(ctx context.Context, bucketKey string, band rules.Band, permits int64) (buckets.State, error) {
	if err := buckets.ValidateConsume(band, permits); err != nil {
		return buckets.State{}, err
	}

	keys := []string{bucketKey}
	args := []any{band.Capacity, band.Window.Microseconds(), permits}

	var raw any
	invoke := func() error {
		var err error
		raw, err = s.provider.EvalSHA(ctx, s.sha.Load().(string), keys, args...)
		if backends.IsScriptMissing(err) {
			// Store restarted or flushed its script cache. Execute by
			// full body so this call succeeds, and heal the cache in the
			// background.
			s.scheduleRepublish()
			raw, err = s.provider.Eval(ctx, tryConsumeScript, keys, args...)
		}
		return err
	}

	if err := backoff.Retry(ctx, s.retry, backends.IsConnError, invoke); err != nil {
		return buckets.State{}, buckets.NewConsumeFailedError(bucketKey, err)
	}

	return parseConsumeResult(raw)
}

// scheduleRepublish re-loads the script exactly once no matter how many
// concurrent callers hit the cache miss.
func (s *Store) scheduleRepublish() {
	if !s.republishing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.republishing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sha, err := s.provider.ScriptLoad(ctx, tryConsumeScript)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to republish consumption script")
			return
		}
		s.sha.Store(sha)
		s.log.Debug().Str("sha", sha).Msg("republished consumption script")
	}()
}

func parseConsumeResult(raw any) (buckets.State, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 5 {
		return buckets.State{}, buckets.ErrMalformedScriptResult
	}

	nums := make([]int64, 5)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return buckets.State{}, buckets.ErrMalformedScriptResult
		}
		nums[i] = n
	}

	return buckets.State{
		Consumed:        nums[0] == 1,
		Remaining:       nums[1],
		WaitNanos:       nums[2],
		ResetTimeMillis: nums[3],
		NewBucket:       nums[4] == 1,
	}, nil
}

func (s *Store) DeleteRuleSet(ctx context.Context, ruleSetID string) error {
	return s.purge(ctx, buckets.RuleSetPattern(ruleSetID))
}

func (s *Store) DeleteAll(ctx context.Context) error {
	return s.purge(ctx, buckets.AllPattern())
}

func (s *Store) purge(ctx context.Context, pattern string) error {
	deleted := 0
	err := s.provider.Scan(ctx, pattern, s.scanBatch, func(keys []string) error {
		if err := s.provider.Del(ctx, keys...); err != nil {
			return err
		}
		deleted += len(keys)
		return nil
	})
	if err != nil {
		return buckets.NewPurgeFailedError(pattern, err)
	}
	s.log.Debug().Str("pattern", pattern).Int("deleted", deleted).Msg("purged buckets")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}
