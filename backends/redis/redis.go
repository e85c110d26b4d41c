package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OpenFluxGate/fluxgate/backends"
)

// Mode selects the cluster topology. ModeAuto detects a cluster when the
// URI carries a comma-separated node list.
const (
	ModeAuto       = "auto"
	ModeStandalone = "standalone"
	ModeCluster    = "cluster"
)

type Config struct {
	// URI is the store location, e.g. "redis://localhost:6379" or a
	// comma-separated node list "10.0.0.1:6379,10.0.0.2:6379".
	URI      string
	Mode     string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// Backend implements backends.Provider on top of go-redis. A single
// UniversalClient serves both standalone and cluster topologies.
type Backend struct {
	client redis.UniversalClient
}

// Client exposes the underlying client, mainly for tests.
func (b *Backend) Client() redis.UniversalClient {
	return b.client
}

// New connects to the coordination store and verifies connectivity.
func New(config Config) (*Backend, error) {
	if config.URI == "" {
		return nil, NewInvalidConfigError("uri")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	addrs, cluster := parseURI(config.URI, config.Mode)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	// Force cluster routing when a multi-node list was given but the
	// universal constructor would have picked failover/standalone.
	if cluster && len(addrs) == 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        addrs,
			Password:     config.Password,
			PoolSize:     config.PoolSize,
			DialTimeout:  config.Timeout,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, NewConnectionFailedError(config.URI, err)
	}

	return &Backend{client: client}, nil
}

// parseURI strips the scheme and splits node lists. More than one node, or
// an explicit cluster mode, selects cluster topology.
func parseURI(uri, mode string) ([]string, bool) {
	trimmed := strings.TrimPrefix(uri, "redis://")
	trimmed = strings.TrimPrefix(trimmed, "rediss://")

	parts := strings.Split(trimmed, ",")
	addrs := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			addrs = append(addrs, addr)
		}
	}

	cluster := mode == ModeCluster || (mode != ModeStandalone && len(addrs) > 1)
	return addrs, cluster
}

func (b *Backend) ScriptLoad(ctx context.Context, script string) (string, error) {
	// On a cluster the script must land on every primary; routing by a
	// single key would leave the other shards without it.
	if cc, ok := b.client.(*redis.ClusterClient); ok {
		var sha string
		err := cc.ForEachMaster(ctx, func(ctx context.Context, shard *redis.Client) error {
			loaded, err := shard.ScriptLoad(ctx, script).Result()
			if err != nil {
				return err
			}
			sha = loaded
			return nil
		})
		if err != nil {
			return "", NewScriptLoadError(err)
		}
		return sha, nil
	}

	sha, err := b.client.ScriptLoad(ctx, script).Result()
	if err != nil {
		return "", NewScriptLoadError(err)
	}
	return sha, nil
}

func (b *Backend) EvalSHA(ctx context.Context, sha string, keys []string, args ...any) (any, error) {
	return b.client.EvalSha(ctx, sha, keys, args...).Result()
}

func (b *Backend) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return b.client.Eval(ctx, script, keys, args...).Result()
}

func (b *Backend) HSet(ctx context.Context, key string, fields map[string]any) error {
	if err := b.client.HSet(ctx, key, fields).Err(); err != nil {
		return NewOperationError("hset", key, err)
	}
	return nil
}

func (b *Backend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, NewOperationError("hgetall", key, err)
	}
	return values, nil
}

func (b *Backend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// Cluster DEL cannot span slots in one command.
	if _, ok := b.client.(*redis.ClusterClient); ok {
		for _, key := range keys {
			if err := b.client.Del(ctx, key).Err(); err != nil {
				return NewOperationError("del", key, err)
			}
		}
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return NewOperationError("del", keys[0], err)
	}
	return nil
}

func (b *Backend) SAdd(ctx context.Context, key string, members ...string) error {
	if err := b.client.SAdd(ctx, key, toAnySlice(members)...).Err(); err != nil {
		return NewOperationError("sadd", key, err)
	}
	return nil
}

func (b *Backend) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, NewOperationError("smembers", key, err)
	}
	return members, nil
}

func (b *Backend) SRem(ctx context.Context, key string, members ...string) error {
	if err := b.client.SRem(ctx, key, toAnySlice(members)...).Err(); err != nil {
		return NewOperationError("srem", key, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	count, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, NewOperationError("exists", key, err)
	}
	return count > 0, nil
}

func (b *Backend) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := b.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, NewOperationError("ttl", key, err)
	}
	return ttl, nil
}

func (b *Backend) Scan(ctx context.Context, pattern string, batchSize int64, fn func(keys []string) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	if cc, ok := b.client.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, shard *redis.Client) error {
			return scanNode(ctx, shard, pattern, batchSize, fn)
		})
	}
	return scanNode(ctx, b.client, pattern, batchSize, fn)
}

type scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func scanNode(ctx context.Context, node scanner, pattern string, batchSize int64, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := node.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			return NewOperationError("scan", pattern, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return NewPingFailedError(err)
	}
	return nil
}

func (b *Backend) Publish(ctx context.Context, channel, payload string) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return NewOperationError("publish", channel, err)
	}
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, channel string) (backends.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	// Receive confirms the subscription is established before we hand the
	// channel out; setup stays idempotent on the caller's side.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, NewSubscribeFailedError(channel, err)
	}

	sub := &subscription{
		ps: ps,
		ch: make(chan backends.Message, 16),
	}
	go sub.pump()
	return sub, nil
}

func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return NewCloseFailedError(err)
	}
	return nil
}

type subscription struct {
	ps *redis.PubSub
	ch chan backends.Message
}

func (s *subscription) Messages() <-chan backends.Message {
	return s.ch
}

func (s *subscription) Close() error {
	return s.ps.Close()
}

func (s *subscription) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		s.ch <- backends.Message{Channel: msg.Channel, Payload: msg.Payload}
	}
}

func toAnySlice(members []string) []any {
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
