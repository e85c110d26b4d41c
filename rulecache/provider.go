package rulecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/reload"
	"github.com/OpenFluxGate/fluxgate/rules"
)

// Provider is the read-through rule-set source: cache first, repository on
// miss. It is also a reload listener; per-set events evict one entry, full
// reloads clear everything.
type Provider struct {
	cache    *Cache
	repo     rules.Repository
	resolver rules.KeyResolver
	log      zerolog.Logger
}

type ProviderOption func(*Provider)

// WithResolver attaches a key resolver to every rule set served.
func WithResolver(resolver rules.KeyResolver) ProviderOption {
	return func(p *Provider) {
		p.resolver = resolver
	}
}

func WithLogger(log zerolog.Logger) ProviderOption {
	return func(p *Provider) {
		p.log = log
	}
}

func NewProvider(cache *Cache, repo rules.Repository, opts ...ProviderOption) *Provider {
	p := &Provider{
		cache: cache,
		repo:  repo,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindByID returns the resolved rule set, or found=false when the
// repository has no rules for the id. Only non-empty rule sets are cached.
func (p *Provider) FindByID(ctx context.Context, ruleSetID string) (rules.RuleSet, bool, error) {
	if ruleSet, ok := p.cache.Get(ruleSetID); ok {
		return ruleSet, true, nil
	}

	ruleList, err := p.repo.FindByRuleSetID(ctx, ruleSetID)
	if err != nil {
		if errors.Is(err, rules.ErrRuleSetNotFound) {
			return rules.RuleSet{}, false, nil
		}
		return rules.RuleSet{}, false, fmt.Errorf("failed to load rule set %q: %w", ruleSetID, err)
	}
	if len(ruleList) == 0 {
		return rules.RuleSet{}, false, nil
	}

	ruleSet := rules.RuleSet{
		ID:       ruleSetID,
		Rules:    ruleList,
		Resolver: p.resolver,
	}
	p.cache.Put(ruleSet)
	p.log.Debug().Str("rule_set", ruleSetID).Int("rules", len(ruleList)).Msg("rule set loaded")
	return ruleSet, true, nil
}

// CachedIDs lists rule sets currently held in the cache. Polling reload
// uses it to know which sets are worth fingerprinting.
func (p *Provider) CachedIDs() []string {
	return p.cache.Keys()
}

// Stats exposes the underlying cache statistics.
func (p *Provider) Stats() Stats {
	return p.cache.Stats()
}

// OnReload implements reload.Listener.
func (p *Provider) OnReload(event reload.Event) {
	if event.Full() {
		p.cache.Clear()
		p.log.Info().Str("source", string(event.Source)).Msg("rule cache cleared")
		return
	}
	p.cache.Evict(event.RuleSetID)
	p.log.Info().Str("rule_set", event.RuleSetID).Str("source", string(event.Source)).Msg("rule set evicted from cache")
}
