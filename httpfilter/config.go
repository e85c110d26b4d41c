package httpfilter

import "time"

// Default request headers consulted when building the request context.
const (
	DefaultClientIPHeader = "X-Forwarded-For"
	DefaultUserIDHeader   = "X-User-Id"
	DefaultAPIKeyHeader   = "X-API-Key"
)

// WaitConfig controls the wait-for-refill path. The semaphore is process
// local: it protects this instance's thread pool, it does not coordinate
// queueing across a fleet.
type WaitConfig struct {
	Enabled            bool          `yaml:"enabled"`
	MaxWait            time.Duration `yaml:"max-wait"`
	MaxConcurrentWaits int64         `yaml:"max-concurrent-waits"`
}

// Config is the filter's per-instance configuration.
type Config struct {
	RuleSetID           string        `yaml:"rule-set-id"`
	IncludePatterns     []string      `yaml:"include-patterns"`
	ExcludePatterns     []string      `yaml:"exclude-patterns"`
	ClientIPHeader      string        `yaml:"client-ip-header"`
	TrustClientIPHeader bool          `yaml:"trust-client-ip-header"`
	UserIDHeader        string        `yaml:"user-id-header"`
	APIKeyHeader        string        `yaml:"api-key-header"`
	IncludeHeaders      bool          `yaml:"include-headers"`
	WaitForRefill       WaitConfig    `yaml:"wait-for-refill"`
	HandlerTimeout      time.Duration `yaml:"handler-timeout"`
}

// DefaultConfig returns the filter defaults: limit everything, trust the
// forwarded-for header, emit advisory headers, no waiting.
func DefaultConfig() Config {
	return Config{
		IncludePatterns:     []string{"/**"},
		ClientIPHeader:      DefaultClientIPHeader,
		TrustClientIPHeader: true,
		UserIDHeader:        DefaultUserIDHeader,
		APIKeyHeader:        DefaultAPIKeyHeader,
		IncludeHeaders:      true,
		WaitForRefill: WaitConfig{
			Enabled:            false,
			MaxWait:            5 * time.Second,
			MaxConcurrentWaits: 100,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.ClientIPHeader == "" {
		c.ClientIPHeader = DefaultClientIPHeader
	}
	if c.UserIDHeader == "" {
		c.UserIDHeader = DefaultUserIDHeader
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = DefaultAPIKeyHeader
	}
	if c.WaitForRefill.MaxWait <= 0 {
		c.WaitForRefill.MaxWait = 5 * time.Second
	}
	if c.WaitForRefill.MaxConcurrentWaits <= 0 {
		c.WaitForRefill.MaxConcurrentWaits = 100
	}
	return c
}
