package cache

import (
	"context"
	"sync"
	"time"
)

var (
	globalCache Cache
	globalMu    sync.RWMutex
)

// InitGlobalCache initializes the global cache instance
func InitGlobalCache(cfg Config) error {
	c, err := NewCache(cfg)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalCache = c
	globalMu.Unlock()
	return nil
}

// GetGlobalCache returns the global cache, creating a default local cache
// if none was initialized
func GetGlobalCache() Cache {
	globalMu.RLock()
	if globalCache != nil {
		defer globalMu.RUnlock()
		return globalCache
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCache == nil {
		globalCache = NewLocalCache(Config{
			DefaultExpiration: 5 * time.Minute,
			CleanupInterval:   10 * time.Minute,
		})
	}
	return globalCache
}

// SetGlobalCache replaces the global cache instance (mainly for tests)
func SetGlobalCache(c Cache) {
	globalMu.Lock()
	globalCache = c
	globalMu.Unlock()
}

// CloseGlobalCache closes the global cache connection
func CloseGlobalCache() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCache != nil {
		err := globalCache.Close()
		globalCache = nil
		return err
	}
	return nil
}

// Get reads a value through the global cache
func Get(ctx context.Context, key string) (interface{}, bool) {
	return GetGlobalCache().Get(ctx, key)
}

// Set writes a value through the global cache
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return GetGlobalCache().Set(ctx, key, value, expiration)
}

// Delete removes a key through the global cache
func Delete(ctx context.Context, key string) error {
	return GetGlobalCache().Delete(ctx, key)
}
