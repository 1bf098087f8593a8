package cache

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisOptions(t *testing.T) {
	cfg := defaultRedisConfig()
	for _, opt := range []RedisOption{
		WithRedisAddr("cache.internal", 0),
		WithRedisAuth("secret", 2),
		WithRedisPool(0, 4, time.Second),
		WithRedisTimeouts(0, time.Second, 0),
		WithRedisPrefix(""),
	} {
		opt(cfg)
	}

	o := cfg.options()
	if o.Addr != "cache.internal:6379" {
		t.Fatalf("addr = %s", o.Addr)
	}
	if o.Password != "secret" || o.DB != 2 {
		t.Fatalf("auth not applied: %+v", o)
	}
	if o.PoolSize != 10 || o.MinIdleConns != 4 || o.PoolTimeout != time.Second {
		t.Fatalf("pool = %d/%d/%v", o.PoolSize, o.MinIdleConns, o.PoolTimeout)
	}
	if o.DialTimeout != 5*time.Second || o.ReadTimeout != time.Second || o.WriteTimeout != 3*time.Second {
		t.Fatalf("timeouts = %v/%v/%v", o.DialTimeout, o.ReadTimeout, o.WriteTimeout)
	}
	if cfg.Prefix != "linepulse" {
		t.Fatalf("empty prefix must keep default, got %q", cfg.Prefix)
	}
}

func TestRedisKey(t *testing.T) {
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "lp")
	defer r.Close()
	if got := r.Key("kv:baseline:momentum_total"); got != "lp:kv:baseline:momentum_total" {
		t.Fatalf("key = %s", got)
	}
}
