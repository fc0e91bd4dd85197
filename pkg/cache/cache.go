package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Config selects and tunes the cache backend
type Config struct {
	Backend           string        `env:"CACHE_BACKEND"` // local (default) or redis
	DefaultExpiration time.Duration `env:"CACHE_DEFAULT_EXPIRATION"`
	CleanupInterval   time.Duration `env:"CACHE_CLEANUP_INTERVAL"`
	RedisAddr         string        `env:"CACHE_REDIS_ADDR"`
	RedisPassword     string        `env:"CACHE_REDIS_PASSWORD"`
	RedisDB           int           `env:"CACHE_REDIS_DB"`
}

// Cache is the minimal cache surface used by the rest of the system
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewCache builds a cache for the configured backend
func NewCache(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalCache(cfg), nil
	case "redis":
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// LocalCache is an in-process cache backed by go-cache
type LocalCache struct {
	c *gocache.Cache
}

func NewLocalCache(cfg Config) *LocalCache {
	exp := cfg.DefaultExpiration
	if exp == 0 {
		exp = 5 * time.Minute
	}
	cleanup := cfg.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}
	return &LocalCache{c: gocache.New(exp, cleanup)}
}

func (l *LocalCache) Get(_ context.Context, key string) (interface{}, bool) {
	return l.c.Get(key)
}

func (l *LocalCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	l.c.Set(key, value, expiration)
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

func (l *LocalCache) Close() error { return nil }

// RedisCache stores JSON-encoded values in redis
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(cfg Config) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, raw, expiration).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisCache) Close() error { return r.rdb.Close() }
