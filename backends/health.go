package backends

import (
	"context"
	"time"
)

// HealthConfig holds configuration for provider health checking.
type HealthConfig struct {
	Interval time.Duration // check frequency; <= 0 disables checking
	Timeout  time.Duration // per-check timeout
}

// DefaultHealthConfig returns a health checker config with sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// HealthChecker monitors provider connectivity in the background.
type HealthChecker struct {
	provider  Provider
	config    HealthConfig
	stopChan  chan struct{}
	onHealthy func()
	onFailure func(error)
}

// NewHealthChecker creates a health checker. Both callbacks are optional.
func NewHealthChecker(provider Provider, config HealthConfig, onHealthy func(), onFailure func(error)) *HealthChecker {
	return &HealthChecker{
		provider:  provider,
		config:    config,
		stopChan:  make(chan struct{}),
		onHealthy: onHealthy,
		onFailure: onFailure,
	}
}

// Start begins background health monitoring.
func (h *HealthChecker) Start() {
	if h.config.Interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(h.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.check()
			case <-h.stopChan:
				return
			}
		}
	}()
}

// Stop stops health monitoring.
func (h *HealthChecker) Stop() {
	select {
	case h.stopChan <- struct{}{}:
	default:
	}
}

func (h *HealthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.provider.Ping(ctx); err != nil {
		if h.onFailure != nil {
			h.onFailure(err)
		}
		return
	}
	if h.onHealthy != nil {
		h.onHealthy()
	}
}
