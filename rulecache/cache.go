// Package rulecache keeps resolved rule sets close to the request path.
// The cache is bounded and TTL-governed; the provider wraps the durable
// repository with read-through semantics and honors reload events.
package rulecache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/OpenFluxGate/fluxgate/rules"
)

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Cache is a thread-safe, TTL-bounded LRU of resolved rule sets.
type Cache struct {
	lru       *expirable.LRU[string, rules.RuleSet]
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCache creates a cache holding at most maxSize entries, each for at
// most ttl.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	c := &Cache{}
	c.lru = expirable.NewLRU(maxSize, func(string, rules.RuleSet) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

func (c *Cache) Get(ruleSetID string) (rules.RuleSet, bool) {
	ruleSet, ok := c.lru.Get(ruleSetID)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return ruleSet, ok
}

func (c *Cache) Put(ruleSet rules.RuleSet) {
	c.lru.Add(ruleSet.ID, ruleSet)
}

func (c *Cache) Evict(ruleSetID string) {
	c.lru.Remove(ruleSetID)
}

func (c *Cache) Clear() {
	c.lru.Purge()
}

// Keys returns the ids currently cached, oldest first.
func (c *Cache) Keys() []string {
	return c.lru.Keys()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}
