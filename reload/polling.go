package reload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/rules"
)

// PollingConfig controls the polling reload strategy.
type PollingConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	FetchTimeout time.Duration
}

func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		Interval:     30 * time.Second,
		InitialDelay: 10 * time.Second,
		FetchTimeout: 5 * time.Second,
	}
}

// PollingStrategy periodically refetches the rule sets that are currently
// cached and emits an event when a set's content fingerprint changes or
// the set disappears upstream. Fingerprints live only in this process.
type PollingStrategy struct {
	broadcaster

	repo      rules.Repository
	cachedIDs func() []string
	config    PollingConfig

	mu           sync.Mutex
	started      bool
	stopChan     chan struct{}
	fingerprints map[string]string
}

// NewPolling builds a polling strategy. cachedIDs supplies the rule sets
// worth watching; uncached sets reload naturally on their next miss.
func NewPolling(repo rules.Repository, cachedIDs func() []string, config PollingConfig, log zerolog.Logger) *PollingStrategy {
	if config.Interval <= 0 {
		config.Interval = DefaultPollingConfig().Interval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultPollingConfig().FetchTimeout
	}
	s := &PollingStrategy{
		repo:         repo,
		cachedIDs:    cachedIDs,
		config:       config,
		fingerprints: make(map[string]string),
	}
	s.broadcaster.log = log
	return s
}

func (s *PollingStrategy) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.stopChan = make(chan struct{})

	go s.run(s.stopChan)
	return nil
}

func (s *PollingStrategy) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	close(s.stopChan)
	return nil
}

func (s *PollingStrategy) run(stop <-chan struct{}) {
	if s.config.InitialDelay > 0 {
		select {
		case <-time.After(s.config.InitialDelay):
		case <-stop:
			return
		}
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		s.poll()
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

func (s *PollingStrategy) poll() {
	for _, id := range s.cachedIDs() {
		s.pollOne(id)
	}
}

func (s *PollingStrategy) pollOne(ruleSetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.FetchTimeout)
	defer cancel()

	ruleList, err := s.repo.FindByRuleSetID(ctx, ruleSetID)
	if err != nil {
		if errors.Is(err, rules.ErrRuleSetNotFound) {
			s.handleDisappeared(ruleSetID)
			return
		}
		s.log.Warn().Err(err).Str("rule_set", ruleSetID).Msg("polling fetch failed")
		return
	}

	fingerprint := rules.Fingerprint(ruleSetID, "", ruleList)

	s.mu.Lock()
	previous, seen := s.fingerprints[ruleSetID]
	s.fingerprints[ruleSetID] = fingerprint
	s.mu.Unlock()

	// The first observation just records the baseline; the set was loaded
	// through the cache already.
	if seen && previous != fingerprint {
		s.log.Info().Str("rule_set", ruleSetID).Msg("rule set changed upstream")
		s.emit(NewEvent(ruleSetID, SourcePolling))
	}
}

func (s *PollingStrategy) handleDisappeared(ruleSetID string) {
	s.mu.Lock()
	delete(s.fingerprints, ruleSetID)
	s.mu.Unlock()

	// Listeners evict the set, so it drops out of cachedIDs and the event
	// fires once.
	s.log.Info().Str("rule_set", ruleSetID).Msg("rule set disappeared upstream")
	s.emit(NewEvent(ruleSetID, SourcePolling))
}
