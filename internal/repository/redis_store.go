package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/pkg/cache"
)

// RedisStore implements LearningStore on Redis strings and capped lists.
// Each log is kept twice: one list per log name for unfiltered reads and
// one list per (log, key) so keyed reads are a single LRANGE.
type RedisStore struct {
	rdb       *cache.Redis
	maxLog    int64
	maxPerKey int64
}

// RedisStoreOption configures RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisLogCaps bounds the global and per-key log lists.
func WithRedisLogCaps(maxLog, maxPerKey int64) RedisStoreOption {
	return func(s *RedisStore) {
		if maxLog > 0 {
			s.maxLog = maxLog
		}
		if maxPerKey > 0 {
			s.maxPerKey = maxPerKey
		}
	}
}

func NewRedisStore(rdb *cache.Redis, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, maxLog: 50000, maxPerKey: 1000}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, recordKey(key))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, recordKey(key), value); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, log string, entry models.LogEntry) error {
	entry.Log = log
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", log, err)
	}

	if err := s.rdb.PushCapped(ctx, s.maxLog, b, logKey(log, "")); err != nil {
		return fmt.Errorf("redis append %s: %w", log, err)
	}
	if entry.Key != "" {
		if err := s.rdb.PushCapped(ctx, s.maxPerKey, b, logKey(log, entry.Key)); err != nil {
			return fmt.Errorf("redis append %s/%s: %w", log, entry.Key, err)
		}
	}
	return nil
}

func (s *RedisStore) QueryRecent(ctx context.Context, log, key string, n int) ([]models.LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := s.rdb.Tail(ctx, logKey(log, key), int64(n))
	if err != nil {
		return nil, fmt.Errorf("redis query %s: %w", log, err)
	}

	out := make([]models.LogEntry, 0, len(items))
	for _, item := range items {
		var e models.LogEntry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx)
}

func recordKey(key string) string {
	return "kv:" + key
}

func logKey(log, key string) string {
	if key == "" {
		return "log:" + log
	}
	return "log:" + log + ":" + key
}

var _ domrepo.LearningStore = (*RedisStore)(nil)
