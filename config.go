package fluxgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenFluxGate/fluxgate/httpfilter"
	"github.com/OpenFluxGate/fluxgate/reload"
)

// Reload strategy names accepted in configuration.
const (
	ReloadPolling = "POLLING"
	ReloadPubSub  = "PUBSUB"
	ReloadNone    = "NONE"
)

// MissingRuleSetStrategy decides what happens when a check references an
// unknown rule set.
type MissingRuleSetStrategy string

const (
	MissingAllow MissingRuleSetStrategy = "ALLOW" // admit without a rule
	MissingThrow MissingRuleSetStrategy = "THROW" // surface an error
)

// StoreConfig locates the coordination store.
type StoreConfig struct {
	URI      string        `yaml:"uri"`
	Mode     string        `yaml:"mode"` // auto|standalone|cluster
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool-size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RulesConfig locates the rule store.
type RulesConfig struct {
	URI   string `yaml:"uri"`
	Table string `yaml:"table"`
	DDL   string `yaml:"ddl"` // validate|create
}

// PollingReloadConfig configures the polling strategy.
type PollingReloadConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial-delay"`
}

// PubSubReloadConfig configures the pub/sub strategy.
type PubSubReloadConfig struct {
	Channel        string        `yaml:"channel"`
	RetryOnFailure bool          `yaml:"retry-on-failure"`
	RetryInterval  time.Duration `yaml:"retry-interval"`
}

// ReloadConfig selects and configures the reload strategy.
type ReloadConfig struct {
	Strategy string              `yaml:"strategy"` // POLLING|PUBSUB|NONE
	Polling  PollingReloadConfig `yaml:"polling"`
	PubSub   PubSubReloadConfig  `yaml:"pubsub"`
}

// CacheConfig bounds the local rule cache.
type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max-size"`
}

// FilterConfig wraps the HTTP filter settings plus its enable switch.
type FilterConfig struct {
	Enabled bool `yaml:"enabled"`
	httpfilter.Config `yaml:",inline"`
}

// Config is the full configuration surface of the engine.
type Config struct {
	Store            StoreConfig            `yaml:"store"`
	Rules            RulesConfig            `yaml:"rules"`
	Filter           FilterConfig           `yaml:"filter"`
	Reload           ReloadConfig           `yaml:"reload"`
	Cache            CacheConfig            `yaml:"cache"`
	OnMissingRuleSet MissingRuleSetStrategy `yaml:"on-missing-rule-set"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			URI:     "redis://localhost:6379",
			Mode:    "auto",
			Timeout: 5 * time.Second,
		},
		Rules: RulesConfig{
			Table: "fluxgate_rules",
			DDL:   "validate",
		},
		Filter: FilterConfig{
			Enabled: false,
			Config:  httpfilter.DefaultConfig(),
		},
		Reload: ReloadConfig{
			Strategy: ReloadPolling,
			Polling: PollingReloadConfig{
				Interval:     30 * time.Second,
				InitialDelay: 10 * time.Second,
			},
			PubSub: PubSubReloadConfig{
				Channel:        reload.DefaultChannel,
				RetryOnFailure: true,
				RetryInterval:  5 * time.Second,
			},
		},
		Cache: CacheConfig{
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		OnMissingRuleSet: MissingAllow,
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects configurations that cannot start. Configuration errors
// are fatal to the owning process.
func (c Config) Validate() error {
	switch c.Reload.Strategy {
	case ReloadPolling, ReloadPubSub, ReloadNone:
	default:
		return fmt.Errorf("unknown reload strategy %q", c.Reload.Strategy)
	}
	switch c.OnMissingRuleSet {
	case MissingAllow, MissingThrow:
	default:
		return fmt.Errorf("unknown on-missing-rule-set strategy %q", c.OnMissingRuleSet)
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache max-size must be non-negative, got %d", c.Cache.MaxSize)
	}
	if c.Store.URI == "" {
		return fmt.Errorf("store uri cannot be empty")
	}
	return nil
}
