package reload

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenFluxGate/fluxgate/backends"
)

// DefaultChannel is the coordination-store channel reload messages arrive on.
const DefaultChannel = "fluxgate:rule-reload"

// PubSubConfig controls the publish/subscribe reload strategy.
type PubSubConfig struct {
	Channel        string
	RetryOnFailure bool
	RetryInterval  time.Duration
}

func DefaultPubSubConfig() PubSubConfig {
	return PubSubConfig{
		Channel:        DefaultChannel,
		RetryOnFailure: true,
		RetryInterval:  5 * time.Second,
	}
}

// reloadMessage is the structured form of a channel payload.
type reloadMessage struct {
	RuleSetID  string `json:"ruleSetId"`
	FullReload bool   `json:"fullReload"`
}

// PubSubStrategy keeps a durable subscription on the reload channel.
// Payload interpretation:
//   - "*" or empty: full reload
//   - a JSON object with ruleSetId and/or fullReload
//   - any other non-empty string: reload that rule set id
//
// On disconnect the strategy resubscribes after a fixed interval until
// stopped.
type PubSubStrategy struct {
	broadcaster

	provider backends.Provider
	config   PubSubConfig

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPubSub(provider backends.Provider, config PubSubConfig, log zerolog.Logger) *PubSubStrategy {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultPubSubConfig().RetryInterval
	}
	s := &PubSubStrategy{
		provider: provider,
		config:   config,
	}
	s.broadcaster.log = log
	return s
}

func (s *PubSubStrategy) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *PubSubStrategy) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.cancel()
	<-s.done
	return nil
}

func (s *PubSubStrategy) run(ctx context.Context) {
	defer close(s.done)

	for {
		sub, err := s.provider.Subscribe(ctx, s.config.Channel)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", s.config.Channel).Msg("reload subscription failed")
			if !s.retryWait(ctx) {
				return
			}
			continue
		}

		s.log.Info().Str("channel", s.config.Channel).Msg("subscribed for rule reloads")
		s.consume(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Str("channel", s.config.Channel).Msg("reload subscription lost")
		if !s.retryWait(ctx) {
			return
		}
	}
}

// retryWait sleeps one retry interval; false means stop reconnecting.
func (s *PubSubStrategy) retryWait(ctx context.Context) bool {
	if !s.config.RetryOnFailure {
		return false
	}
	select {
	case <-time.After(s.config.RetryInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *PubSubStrategy) consume(ctx context.Context, sub backends.Subscription) {
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.handlePayload(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *PubSubStrategy) handlePayload(payload string) {
	payload = strings.TrimSpace(payload)

	if payload == "" || payload == "*" {
		s.emit(NewEvent("", SourcePubSub))
		return
	}

	if strings.HasPrefix(payload, "{") {
		var msg reloadMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			s.log.Warn().Err(err).Str("payload", payload).Msg("malformed reload message")
			return
		}
		if msg.FullReload {
			s.emit(NewEvent("", SourcePubSub))
			return
		}
		if msg.RuleSetID != "" {
			s.emit(NewEvent(msg.RuleSetID, SourcePubSub))
		}
		return
	}

	s.emit(NewEvent(payload, SourcePubSub))
}
