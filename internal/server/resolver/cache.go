package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tierconf/internal/types"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cacheKey identifies one cached resolution outcome. FromStore is part
// of the key because a resolution that skipped persistence must not be
// served to a caller that wants the persisted tier consulted.
type cacheKey struct {
	Key         string         `json:"key"`
	Environment string         `json:"environment"`
	Platform    types.Platform `json:"platform"`
	FromStore   bool           `json:"from_store"`
}

func (k cacheKey) redisField() string {
	return fmt.Sprintf("%s|%s|%s|%t", k.Key, k.Environment, k.Platform, k.FromStore)
}

// cacheEntry records a resolution outcome, including "nothing found".
type cacheEntry struct {
	Value any  `json:"value"`
	Found bool `json:"found"`
}

// Cache is the resolution cache. Entries expire after the configured
// TTL; DeleteKey drops every scope variant of one key.
type Cache interface {
	Get(key cacheKey) (cacheEntry, bool)
	Set(key cacheKey, entry cacheEntry)
	DeleteKey(key string)
	Clear()
	Stop()
}

// NewCache creates the configured cache backend
func NewCache(cfg *Config, logger *zap.Logger) (Cache, error) {
	switch cfg.CacheBackend {
	case "redis":
		return newRedisCache(cfg, logger)
	default:
		return newMemoryCache(cfg.CacheTTL), nil
	}
}

// memoryCache is the default in-process cache
type memoryCache struct {
	cache *ttlcache.Cache[cacheKey, cacheEntry]
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	c := ttlcache.New(
		ttlcache.WithTTL[cacheKey, cacheEntry](ttl),
		ttlcache.WithDisableTouchOnHit[cacheKey, cacheEntry](),
	)
	go c.Start()
	return &memoryCache{cache: c}
}

func (m *memoryCache) Get(key cacheKey) (cacheEntry, bool) {
	item := m.cache.Get(key)
	if item == nil {
		return cacheEntry{}, false
	}
	return item.Value(), true
}

func (m *memoryCache) Set(key cacheKey, entry cacheEntry) {
	m.cache.Set(key, entry, ttlcache.DefaultTTL)
}

func (m *memoryCache) DeleteKey(key string) {
	for _, k := range m.cache.Keys() {
		if k.Key == key {
			m.cache.Delete(k)
		}
	}
}

func (m *memoryCache) Clear() {
	m.cache.DeleteAll()
}

func (m *memoryCache) Stop() {
	m.cache.Stop()
}

// redisCache is an optional shared cache backend. Lookup failures are
// treated as cache misses so a redis outage degrades to slower
// resolution, never to an error.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func newRedisCache(cfg *Config, logger *zap.Logger) (*redisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &redisCache{
		client: client,
		ttl:    cfg.CacheTTL,
		prefix: cfg.Redis.KeyPrefix,
		logger: logger,
	}, nil
}

func (r *redisCache) name(key cacheKey) string {
	return r.prefix + ":" + key.redisField()
}

func (r *redisCache) Get(key cacheKey) (cacheEntry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, r.name(key)).Bytes()
	if err != nil {
		return cacheEntry{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("malformed cache entry", zap.Error(err))
		return cacheEntry{}, false
	}
	return entry, true
}

func (r *redisCache) Set(key cacheKey, entry cacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("failed to encode cache entry", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.client.Set(ctx, r.name(key), data, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to write cache entry", zap.Error(err))
	}
}

func (r *redisCache) DeleteKey(key string) {
	r.deletePattern(r.prefix + ":" + key + "|*")
}

func (r *redisCache) Clear() {
	r.deletePattern(r.prefix + ":*")
}

func (r *redisCache) deletePattern(pattern string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn("failed to delete cache entry",
				zap.String("cache_key", iter.Val()),
				zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache scan failed", zap.Error(err))
	}
}

func (r *redisCache) Stop() {
	if err := r.client.Close(); err != nil {
		r.logger.Warn("failed to close redis client", zap.Error(err))
	}
}
