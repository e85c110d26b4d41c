// Package memory is an in-process buckets.Store with the same observable
// semantics as the coordination-store script: integer refill arithmetic,
// lazy bucket creation, TTL-bounded lifetime and read-only rejections. It
// backs tests and single-process deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/OpenFluxGate/fluxgate/buckets"
	"github.com/OpenFluxGate/fluxgate/rules"
)

type bucket struct {
	tokens        int64
	lastRefillUS  int64 // microseconds since epoch
	expiresAtUnix int64 // seconds since epoch
}

type Store struct {
	locks   sync.Map // map[string]*sync.Mutex
	entries sync.Map // map[string]*bucket
	now     func() time.Time
}

func New() *Store {
	return &Store{
		now: time.Now,
	}
}

// NewWithClock injects a clock, mainly for tests.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		now: now,
	}
}

func (s *Store) getLock(key string) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (s *Store) TryConsume(ctx context.Context, bucketKey string, band rules.Band, permits int64) (buckets.State, error) {
	if err := buckets.ValidateConsume(band, permits); err != nil {
		return buckets.State{}, err
	}
	if err := ctx.Err(); err != nil {
		return buckets.State{}, err
	}

	lock := s.getLock(bucketKey)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	nowUS := now.UnixMicro()
	capacity := band.Capacity
	windowUS := band.Window.Microseconds()

	tokens := capacity
	lastUS := nowUS
	isNew := true
	if stored, ok := s.entries.Load(bucketKey); ok {
		b := stored.(*bucket)
		if b.expiresAtUnix > now.Unix() {
			tokens = b.tokens
			lastUS = b.lastRefillUS
			isNew = false
		} else {
			s.entries.Delete(bucketKey)
		}
	}

	elapsed := nowUS - lastUS
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= windowUS {
		tokens = capacity
	} else if elapsed > 0 {
		added := elapsed * capacity / windowUS
		tokens = min(capacity, tokens+added)
	}

	nowMS := nowUS / 1000
	windowMS := windowUS / 1000

	if tokens >= permits {
		tokens -= permits
		ttl := (windowUS*11 + 9999999) / 10000000 // ceil(window * 1.1) seconds
		if ttl > 86400 {
			ttl = 86400
		}
		s.entries.Store(bucketKey, &bucket{
			tokens:        tokens,
			lastRefillUS:  nowUS,
			expiresAtUnix: now.Unix() + ttl,
		})
		return buckets.State{
			Consumed:        true,
			Remaining:       tokens,
			WaitNanos:       0,
			ResetTimeMillis: nowMS + ceilDiv((capacity-tokens)*windowMS, capacity),
			NewBucket:       isNew,
		}, nil
	}

	// Read-only rejection: persisted state is untouched.
	waitUS := ceilDiv((permits-tokens)*windowUS, capacity)
	return buckets.State{
		Consumed:        false,
		Remaining:       tokens,
		WaitNanos:       waitUS * 1000,
		ResetTimeMillis: nowMS + ceilDiv(waitUS, 1000),
		NewBucket:       isNew,
	}, nil
}

func (s *Store) DeleteRuleSet(ctx context.Context, ruleSetID string) error {
	return s.purge(buckets.KeyPrefix + ruleSetID + ":")
}

func (s *Store) DeleteAll(ctx context.Context) error {
	return s.purge(buckets.KeyPrefix)
}

func (s *Store) purge(prefix string) error {
	s.entries.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			s.entries.Delete(key)
		}
		return true
	})
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
