// Package fluxgate is a distributed HTTP rate-limiting framework. Requests
// are matched against named rule sets, classified into scoped token
// buckets on a shared coordination store, and admitted or rejected with a
// precise wait hint. The engine is the entry point for in-process callers;
// the httpfilter package fronts it for HTTP services.
package fluxgate

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/backends"
	redisbackend "github.com/OpenFluxGate/fluxgate/backends/redis"
	"github.com/OpenFluxGate/fluxgate/buckets"
	redisbuckets "github.com/OpenFluxGate/fluxgate/buckets/redis"
	"github.com/OpenFluxGate/fluxgate/httpfilter"
	"github.com/OpenFluxGate/fluxgate/limiter"
	"github.com/OpenFluxGate/fluxgate/reload"
	"github.com/OpenFluxGate/fluxgate/rulecache"
	"github.com/OpenFluxGate/fluxgate/rules"
	"github.com/OpenFluxGate/fluxgate/rules/postgres"
)

// Engine is the high-level enforcement entry point. Construct with New,
// Start before serving, Close at shutdown; all three are idempotent.
type Engine struct {
	config       Config
	log          zerolog.Logger
	provider     backends.Provider
	ownsProvider bool
	store        buckets.Store
	repo         rules.Repository
	ownsRepo     bool
	ruleProvider *rulecache.Provider
	limiter      *limiter.RateLimiter
	strategy     reload.Strategy
	health       *backends.HealthChecker

	mu      sync.Mutex
	started bool
	closed  bool
}

// New wires the engine from configuration and options. Missing pieces are
// built from configuration: a Redis provider from the store URI, a
// Postgres repository from the rules URI.
func New(opts ...Option) (*Engine, error) {
	b := &builder{
		config: DefaultConfig(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config:   b.config,
		log:      b.log,
		provider: b.provider,
		store:    b.store,
		repo:     b.repo,
	}

	if err := e.buildStore(b); err != nil {
		return nil, err
	}
	if err := e.buildRepository(b); err != nil {
		return nil, err
	}

	cache := rulecache.NewCache(b.config.Cache.MaxSize, b.config.Cache.TTL)
	e.ruleProvider = rulecache.NewProvider(cache, e.repo,
		rulecache.WithResolver(b.resolver),
		rulecache.WithLogger(e.log),
	)

	limiterOpts := []limiter.Option{limiter.WithLogger(e.log)}
	if b.resolver != nil {
		limiterOpts = append(limiterOpts, limiter.WithKeyResolver(b.resolver))
	}
	if b.metrics != nil {
		limiterOpts = append(limiterOpts, limiter.WithMetrics(b.metrics))
	}
	e.limiter = limiter.New(e.store, limiterOpts...)

	if err := e.buildReload(b); err != nil {
		return nil, err
	}
	e.strategy.AddListener(e.ruleProvider)
	e.strategy.AddListener(reload.NewBucketReset(e.store, e.log))

	if b.health != nil && e.provider != nil {
		e.health = backends.NewHealthChecker(e.provider, *b.health,
			func() {
				e.log.Debug().Msg("coordination store healthy")
			},
			func(err error) {
				e.log.Warn().Err(err).Msg("coordination store health check failed")
			},
		)
	}

	return e, nil
}

func (e *Engine) buildStore(b *builder) error {
	if e.store != nil {
		return nil
	}

	if e.provider == nil {
		provider, err := backends.Create("redis", redisbackend.Config{
			URI:      b.config.Store.URI,
			Mode:     b.config.Store.Mode,
			Password: b.config.Store.Password,
			DB:       b.config.Store.DB,
			PoolSize: b.config.Store.PoolSize,
			Timeout:  b.config.Store.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect coordination store: %w", err)
		}
		e.provider = provider
		e.ownsProvider = true
	}

	store, err := redisbuckets.New(e.provider, redisbuckets.WithLogger(e.log))
	if err != nil {
		return fmt.Errorf("failed to initialize bucket store: %w", err)
	}
	e.store = store
	return nil
}

func (e *Engine) buildRepository(b *builder) error {
	if e.repo != nil {
		return nil
	}
	if b.config.Rules.URI == "" {
		return ErrMissingRepository
	}

	repo, err := postgres.New(postgres.Config{
		ConnString: b.config.Rules.URI,
		Table:      b.config.Rules.Table,
		DDL:        b.config.Rules.DDL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect rule store: %w", err)
	}
	e.repo = repo
	e.ownsRepo = true
	return nil
}

func (e *Engine) buildReload(b *builder) error {
	if b.strategy != nil {
		e.strategy = b.strategy
		return nil
	}

	switch b.config.Reload.Strategy {
	case ReloadPolling:
		e.strategy = reload.NewPolling(e.repo, e.ruleProvider.CachedIDs, reload.PollingConfig{
			Interval:     b.config.Reload.Polling.Interval,
			InitialDelay: b.config.Reload.Polling.InitialDelay,
		}, e.log)
	case ReloadPubSub:
		if e.provider == nil {
			return ErrMissingProvider
		}
		e.strategy = reload.NewPubSub(e.provider, reload.PubSubConfig{
			Channel:        b.config.Reload.PubSub.Channel,
			RetryOnFailure: b.config.Reload.PubSub.RetryOnFailure,
			RetryInterval:  b.config.Reload.PubSub.RetryInterval,
		}, e.log)
	default:
		e.strategy = reload.NewNone(e.log)
	}
	return nil
}

// Start launches the reload strategy and, when configured, health
// probing.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return nil
	}
	e.started = true

	if err := e.strategy.Start(); err != nil {
		return fmt.Errorf("failed to start reload strategy: %w", err)
	}
	if e.health != nil {
		e.health.Start()
	}
	return nil
}

// Check evaluates a rule set against the request context. Missing rule
// sets follow the configured strategy; unexpected store trouble admits
// the request, because rate limiting is an availability feature and not a
// security boundary.
func (e *Engine) Check(ctx context.Context, ruleSetID string, reqCtx rules.RequestContext, permits int64) (limiter.Result, error) {
	if permits < 1 {
		permits = 1
	}

	ruleSet, found, err := e.ruleProvider.FindByID(ctx, ruleSetID)
	if err != nil {
		e.log.Error().Err(err).Str("rule_set", ruleSetID).Msg("rule set lookup failed, admitting request")
		return limiter.AllowedWithoutRule(), nil
	}
	if !found {
		if e.config.OnMissingRuleSet == MissingThrow {
			return limiter.Result{}, fmt.Errorf("%w: %q", ErrUnknownRuleSet, ruleSetID)
		}
		return limiter.AllowedWithoutRule(), nil
	}

	result, err := e.limiter.TryConsume(ctx, reqCtx, ruleSet, permits)
	if err != nil {
		if backends.IsConnError(err) {
			e.log.Error().Err(err).
				Str("rule_set", ruleSetID).
				Msg("coordination store unreachable, admitting request")
			return limiter.AllowedWithoutRule(), nil
		}
		// Programming and validation errors surface.
		return limiter.Result{}, err
	}
	return result, nil
}

// Filter builds an HTTP filter from the configuration's filter section,
// dispatching to this engine. Returns nil when the filter is disabled.
func (e *Engine) Filter(opts ...httpfilter.Option) *httpfilter.Filter {
	if !e.config.Filter.Enabled {
		return nil
	}
	opts = append([]httpfilter.Option{httpfilter.WithLogger(e.log)}, opts...)
	return httpfilter.New(httpfilter.NewEngineHandler(e), e.config.Filter.Config, opts...)
}

// TriggerReload asks the reload strategy to re-resolve one rule set.
func (e *Engine) TriggerReload(ruleSetID string) {
	e.strategy.TriggerReload(ruleSetID)
}

// TriggerReloadAll invalidates every cached rule set and purges all
// buckets.
func (e *Engine) TriggerReloadAll() {
	e.strategy.TriggerReloadAll()
}

// CacheStats reports rule cache behavior.
func (e *Engine) CacheStats() rulecache.Stats {
	return e.ruleProvider.Stats()
}

// Close stops background work and releases owned connections.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.started = false

	if err := e.strategy.Stop(); err != nil {
		e.log.Warn().Err(err).Msg("failed to stop reload strategy")
	}
	if e.health != nil {
		e.health.Stop()
	}
	if e.ownsRepo {
		if closer, ok := e.repo.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				e.log.Warn().Err(err).Msg("failed to close rule repository")
			}
		}
	}
	if e.ownsProvider {
		return e.provider.Close()
	}
	return nil
}
