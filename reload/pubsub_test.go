package reload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenFluxGate/fluxgate/backends"
)

type fakeSubscription struct {
	ch chan backends.Message
}

func (f *fakeSubscription) Messages() <-chan backends.Message { return f.ch }
func (f *fakeSubscription) Close() error                      { return nil }

// pubsubProvider hands out scripted subscriptions, one per Subscribe call.
type pubsubProvider struct {
	mu       sync.Mutex
	subs     []*fakeSubscription
	failures int // Subscribe errors before succeeding
	attempts int
}

func (p *pubsubProvider) Subscribe(ctx context.Context, channel string) (backends.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failures > 0 {
		p.failures--
		return nil, errors.New("connection refused")
	}
	sub := &fakeSubscription{ch: make(chan backends.Message, 16)}
	p.subs = append(p.subs, sub)
	return sub, nil
}

func (p *pubsubProvider) current() *fakeSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

func (p *pubsubProvider) subscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *pubsubProvider) ScriptLoad(ctx context.Context, script string) (string, error) {
	return "", nil
}

func (p *pubsubProvider) EvalSHA(ctx context.Context, sha string, keys []string, args ...any) (any, error) {
	return nil, nil
}

func (p *pubsubProvider) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return nil, nil
}

func (p *pubsubProvider) HSet(ctx context.Context, key string, fields map[string]any) error {
	return nil
}

func (p *pubsubProvider) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}

func (p *pubsubProvider) Del(ctx context.Context, keys ...string) error              { return nil }
func (p *pubsubProvider) SAdd(ctx context.Context, key string, m ...string) error    { return nil }
func (p *pubsubProvider) SMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (p *pubsubProvider) SRem(ctx context.Context, key string, m ...string) error    { return nil }
func (p *pubsubProvider) Exists(ctx context.Context, key string) (bool, error)       { return false, nil }
func (p *pubsubProvider) TTL(ctx context.Context, key string) (time.Duration, error) { return 0, nil }

func (p *pubsubProvider) Scan(ctx context.Context, pattern string, batchSize int64, fn func([]string) error) error {
	return nil
}

func (p *pubsubProvider) Ping(ctx context.Context) error                          { return nil }
func (p *pubsubProvider) Publish(ctx context.Context, channel, payload string) error { return nil }
func (p *pubsubProvider) Close() error                                            { return nil }

func TestHandlePayload(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantCount int
		wantID    string
		wantFull  bool
	}{
		{"star is full reload", "*", 1, "", true},
		{"empty is full reload", "", 1, "", true},
		{"whitespace is full reload", "  \n", 1, "", true},
		{"plain id", "api-limits", 1, "api-limits", false},
		{"json with rule set id", `{"ruleSetId":"api-limits"}`, 1, "api-limits", false},
		{"json full reload", `{"fullReload":true}`, 1, "", true},
		{"json full reload wins over id", `{"ruleSetId":"x","fullReload":true}`, 1, "", true},
		{"json with neither field", `{}`, 0, "", false},
		{"malformed json ignored", `{"ruleSetId":`, 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPubSub(&pubsubProvider{}, DefaultPubSubConfig(), zerolog.Nop())
			sink := &eventSink{}
			s.AddListener(sink)

			s.handlePayload(tt.payload)

			events := sink.all()
			require.Len(t, events, tt.wantCount)
			if tt.wantCount == 1 {
				assert.Equal(t, tt.wantID, events[0].RuleSetID)
				assert.Equal(t, tt.wantFull, events[0].Full())
				assert.Equal(t, SourcePubSub, events[0].Source)
			}
		})
	}
}

func TestPubSubDeliversMessages(t *testing.T) {
	provider := &pubsubProvider{}
	s := NewPubSub(provider, PubSubConfig{Channel: "fluxgate:rule-reload"}, zerolog.Nop())
	sink := &eventSink{}
	s.AddListener(sink)

	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	require.Eventually(t, func() bool {
		return provider.current() != nil
	}, time.Second, 5*time.Millisecond)

	provider.current().ch <- backends.Message{Channel: "fluxgate:rule-reload", Payload: "api-limits"}

	require.Eventually(t, func() bool {
		return sink.len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "api-limits", sink.all()[0].RuleSetID)
}

func TestPubSubResubscribesAfterDisconnect(t *testing.T) {
	provider := &pubsubProvider{}
	s := NewPubSub(provider, PubSubConfig{
		RetryOnFailure: true,
		RetryInterval:  5 * time.Millisecond,
	}, zerolog.Nop())
	sink := &eventSink{}
	s.AddListener(sink)

	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	require.Eventually(t, func() bool {
		return provider.current() != nil
	}, time.Second, 5*time.Millisecond)
	first := provider.current()

	// Dropping the channel simulates a lost connection.
	close(first.ch)

	require.Eventually(t, func() bool {
		sub := provider.current()
		return sub != nil && sub != first
	}, time.Second, 5*time.Millisecond)

	provider.current().ch <- backends.Message{Payload: "*"}
	require.Eventually(t, func() bool {
		return sink.len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPubSubRetriesInitialSubscribe(t *testing.T) {
	provider := &pubsubProvider{failures: 2}
	s := NewPubSub(provider, PubSubConfig{
		RetryOnFailure: true,
		RetryInterval:  5 * time.Millisecond,
	}, zerolog.Nop())

	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	require.Eventually(t, func() bool {
		return provider.current() != nil
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, provider.subscribeCount(), 3)
}

func TestPubSubStopWithoutRetry(t *testing.T) {
	provider := &pubsubProvider{failures: 1}
	s := NewPubSub(provider, PubSubConfig{RetryOnFailure: false}, zerolog.Nop())

	require.NoError(t, s.Start())
	// The run loop exits on the failed subscribe; Stop must still return.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())
}
