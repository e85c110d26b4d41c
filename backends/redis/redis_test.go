package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisTest connects to a local store; tests skip when none runs.
func setupRedisTest(t *testing.T) (*Backend, func()) {
	t.Helper()
	uri := os.Getenv("REDIS_URI")
	if uri == "" {
		uri = "redis://localhost:6379"
	}

	backend, err := New(Config{URI: uri, Timeout: 2 * time.Second})
	if err != nil {
		return nil, func() {}
	}

	teardown := func() {
		_ = backend.Client().FlushDB(context.Background())
		_ = backend.Close()
	}
	return backend, teardown
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		mode        string
		wantAddrs   []string
		wantCluster bool
	}{
		{"scheme stripped", "redis://localhost:6379", ModeAuto, []string{"localhost:6379"}, false},
		{"tls scheme stripped", "rediss://localhost:6379", ModeAuto, []string{"localhost:6379"}, false},
		{"bare address", "localhost:6379", ModeAuto, []string{"localhost:6379"}, false},
		{"node list auto-detects cluster", "10.0.0.1:6379,10.0.0.2:6379", ModeAuto, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, true},
		{"explicit cluster on one node", "localhost:6379", ModeCluster, []string{"localhost:6379"}, true},
		{"standalone overrides list", "10.0.0.1:6379,10.0.0.2:6379", ModeStandalone, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, false},
		{"whitespace trimmed", "redis://a:1, b:2", ModeAuto, []string{"a:1", "b:2"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addrs, cluster := parseURI(tt.uri, tt.mode)
			assert.Equal(t, tt.wantAddrs, addrs)
			assert.Equal(t, tt.wantCluster, cluster)
		})
	}
}

func TestNewRejectsEmptyURI(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHashOperations(t *testing.T) {
	ctx := context.Background()
	backend, teardown := setupRedisTest(t)
	defer teardown()
	if backend == nil {
		t.Skip("coordination store not available, skipping")
	}

	const key = "fluxgate:test:hash"
	require.NoError(t, backend.HSet(ctx, key, map[string]any{
		"tokens":            "42",
		"last_refill_nanos": "1700000000000000000",
	}))

	fields, err := backend.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "42", fields["tokens"])
	assert.Equal(t, "1700000000000000000", fields["last_refill_nanos"])

	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, backend.Del(ctx, key))
	exists, err = backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	backend, teardown := setupRedisTest(t)
	defer teardown()
	if backend == nil {
		t.Skip("coordination store not available, skipping")
	}

	const key = "fluxgate:test:set"
	require.NoError(t, backend.SAdd(ctx, key, "a", "b", "c"))

	members, err := backend.SMembers(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	require.NoError(t, backend.SRem(ctx, key, "b"))
	members, err = backend.SMembers(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, members)
}

func TestScriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, teardown := setupRedisTest(t)
	defer teardown()
	if backend == nil {
		t.Skip("coordination store not available, skipping")
	}

	const script = "return {KEYS[1], ARGV[1]}"
	sha, err := backend.ScriptLoad(ctx, script)
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	raw, err := backend.EvalSHA(ctx, sha, []string{"k1"}, "v1")
	require.NoError(t, err)
	assert.Equal(t, []any{"k1", "v1"}, raw)

	raw, err = backend.Eval(ctx, script, []string{"k1"}, "v1")
	require.NoError(t, err)
	assert.Equal(t, []any{"k1", "v1"}, raw)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	backend, teardown := setupRedisTest(t)
	defer teardown()
	if backend == nil {
		t.Skip("coordination store not available, skipping")
	}

	for _, key := range []string{"fluxgate:scan:a", "fluxgate:scan:b", "other:scan:c"} {
		require.NoError(t, backend.HSet(ctx, key, map[string]any{"tokens": "1"}))
	}

	var found []string
	err := backend.Scan(ctx, "fluxgate:scan:*", 10, func(keys []string) error {
		found = append(found, keys...)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fluxgate:scan:a", "fluxgate:scan:b"}, found)
}

func TestPubSubRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, teardown := setupRedisTest(t)
	defer teardown()
	if backend == nil {
		t.Skip("coordination store not available, skipping")
	}

	sub, err := backend.Subscribe(ctx, "fluxgate:test-channel")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, backend.Publish(ctx, "fluxgate:test-channel", "api-limits"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "fluxgate:test-channel", msg.Channel)
		assert.Equal(t, "api-limits", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	backend, teardown := setupRedisTest(t)
	defer teardown()
	if backend == nil {
		t.Skip("coordination store not available, skipping")
	}

	require.NoError(t, backend.Ping(ctx))
}
