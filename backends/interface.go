package backends

import (
	"context"
	"time"
)

// Message is a single publish/subscribe payload received on a channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription is an active channel subscription. Messages is closed when
// the underlying connection drops or the subscription is closed; callers
// that want durability resubscribe.
type Subscription interface {
	// Messages yields payloads as they arrive.
	Messages() <-chan Message

	// Close tears down the subscription and releases its connection.
	Close() error
}

// Provider abstracts the coordination store wire protocol: atomic server-side
// scripting, hash storage with expiration, set bookkeeping, incremental key
// scanning, health probing and publish/subscribe. Implementations must be
// safe for concurrent use by all request threads.
type Provider interface {
	// ScriptLoad publishes a script to the store and returns its digest.
	// On a sharded store the script is distributed to all primaries.
	ScriptLoad(ctx context.Context, script string) (string, error)

	// EvalSHA invokes a previously loaded script by digest.
	EvalSHA(ctx context.Context, sha string, keys []string, args ...any) (any, error)

	// Eval invokes a script by full body.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	HSet(ctx context.Context, key string, fields map[string]any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error

	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Scan streams batches of keys matching pattern without ever blocking
	// the keyspace. On a sharded store every primary is scanned.
	Scan(ctx context.Context, pattern string, batchSize int64, fn func(keys []string) error) error

	// Ping probes connectivity.
	Ping(ctx context.Context) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}
