package fluxgate

import (
	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/backends"
	"github.com/OpenFluxGate/fluxgate/buckets"
	"github.com/OpenFluxGate/fluxgate/limiter"
	"github.com/OpenFluxGate/fluxgate/reload"
	"github.com/OpenFluxGate/fluxgate/rules"
)

// Option is a functional option for constructing the engine.
type Option func(*builder)

type builder struct {
	config   Config
	log      zerolog.Logger
	provider backends.Provider
	store    buckets.Store
	repo     rules.Repository
	resolver rules.KeyResolver
	metrics  limiter.MetricsRecorder
	strategy reload.Strategy
	health   *backends.HealthConfig
}

// WithConfig replaces the default configuration wholesale.
func WithConfig(config Config) Option {
	return func(b *builder) {
		b.config = config
	}
}

// WithLogger sets the structured logger shared by all components.
func WithLogger(log zerolog.Logger) Option {
	return func(b *builder) {
		b.log = log
	}
}

// WithProvider supplies an existing coordination-store provider instead of
// connecting from configuration. The engine does not close it.
func WithProvider(provider backends.Provider) Option {
	return func(b *builder) {
		b.provider = provider
	}
}

// WithStore supplies a bucket store directly, bypassing the coordination
// store entirely (e.g. the in-process memory store).
func WithStore(store buckets.Store) Option {
	return func(b *builder) {
		b.store = store
	}
}

// WithRepository supplies the rule repository.
func WithRepository(repo rules.Repository) Option {
	return func(b *builder) {
		b.repo = repo
	}
}

// WithKeyResolver overrides the default scope-to-key resolver.
func WithKeyResolver(resolver rules.KeyResolver) Option {
	return func(b *builder) {
		b.resolver = resolver
	}
}

// WithMetrics attaches a verdict recorder.
func WithMetrics(metrics limiter.MetricsRecorder) Option {
	return func(b *builder) {
		b.metrics = metrics
	}
}

// WithReloadStrategy overrides the configuration-driven reload strategy.
func WithReloadStrategy(strategy reload.Strategy) Option {
	return func(b *builder) {
		b.strategy = strategy
	}
}

// WithHealthChecking enables background health probing of the
// coordination store.
func WithHealthChecking(config backends.HealthConfig) Option {
	return func(b *builder) {
		b.health = &config
	}
}
