// Package cache provides the staleness-aware store for option-chain
// snapshots and adaptive threshold state (spec §9). Grounded on the
// teacher's Cache interface + in-memory/Redis adapter pair, upgraded from
// env-var-triggered to config-driven so it fits the YAML config layer.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the minimal byte-oriented store both adapters satisfy.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// Config selects and configures the backing cache.
type Config struct {
	Backend string `yaml:"backend"` // "memory" or "redis"
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// New builds a Cache from config: a Redis client when Backend is "redis",
// an in-memory map otherwise.
func New(cfg Config) Cache {
	if cfg.Backend == "redis" && cfg.Addr != "" {
		return &redisCache{r: redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})}
	}
	return newMemory()
}

type entry struct {
	b   []byte
	exp time.Time
}

type memory struct {
	mu sync.Mutex
	m  map[string]entry
}

func newMemory() *memory { return &memory{m: make(map[string]entry)} }

func (c *memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

type redisCache struct{ r *redis.Client }

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
