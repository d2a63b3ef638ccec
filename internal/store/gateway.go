package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gateway is the narrow typed surface this service uses against the shared
// key-value store. Everything game- and challenge-shaped above it speaks in
// hashes, TTLs and publishes; nothing else of the client leaks out except
// Watch, which the relay needs for its read-modify-write cycle.
type Gateway struct {
	rdb *redis.Client
}

// NewGateway connects to the store at redisURL and verifies the connection.
// A failure here is fatal to process startup by contract.
func NewGateway(redisURL string) (*Gateway, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Gateway{rdb: rdb}, nil
}

// NewGatewayFromClient wraps an existing client, for tests.
func NewGatewayFromClient(rdb *redis.Client) *Gateway { return &Gateway{rdb: rdb} }

func (g *Gateway) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}

// HashGetAll returns every field of the hash at key, or nil when the key is
// absent or expired.
func (g *Gateway) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := g.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// HashSet writes the given fields of the hash at key.
func (g *Gateway) HashSet(ctx context.Context, key string, fields map[string]any) error {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return g.rdb.HSet(ctx, key, args...).Err()
}

// Expire bounds the key's lifetime.
func (g *Gateway) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.rdb.Expire(ctx, key, ttl).Err()
}

// Delete removes the key.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, key).Err()
}

// Publish pushes payload onto the named broadcast channel.
func (g *Gateway) Publish(ctx context.Context, channel string, payload []byte) error {
	return g.rdb.Publish(ctx, channel, payload).Err()
}

// Watch runs fn under optimistic concurrency control on keys: if any watched
// key changes before fn's transaction commits, the commit fails with
// redis.TxFailedErr and nothing is written.
func (g *Gateway) Watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	return g.rdb.Watch(ctx, fn, keys...)
}

func (g *Gateway) subscribe(ctx context.Context, channel string) *redis.PubSub {
	return g.rdb.Subscribe(ctx, channel)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
