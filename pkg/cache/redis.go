package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key does not exist.
var ErrCacheMiss = errors.New("cache: key not found")

// Redis is a thin prefixed wrapper over a go-redis client.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and pings it.
func NewRedis(ctx context.Context, opts ...RedisOption) (*Redis, error) {
	cfg := defaultRedisConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Client returns underlying redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get returns the raw value stored at key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

// Set stores value at key without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.Key(key), value, 0).Err()
}

// PushCapped appends value to every list and trims each to its last capacity items
// in a single transaction. A capacity <= 0 leaves the lists untrimmed.
func (r *Redis) PushCapped(ctx context.Context, capacity int64, value []byte, lists ...string) error {
	if len(lists) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, list := range lists {
		k := r.Key(list)
		pipe.RPush(ctx, k, value)
		if capacity > 0 {
			pipe.LTrim(ctx, k, -capacity, -1)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Tail returns up to n trailing items of a list, oldest first.
func (r *Redis) Tail(ctx context.Context, list string, n int64) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := r.client.LRange(ctx, r.Key(list), -n, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// Key applies the configured prefix.
func (r *Redis) Key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}
