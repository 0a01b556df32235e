package tle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/debrisk/debrisk/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "debrisk:tle:"

// CacheStats summarizes cache occupancy for the diagnostics API.
// Expired entries stay counted in TotalEntries until overwritten or
// cleared.
type CacheStats struct {
	TotalEntries  int     `json:"total_entries"`
	ActiveEntries int     `json:"active_entries"`
	TTLHours      float64 `json:"cache_timeout_hours"`
	RedisEnabled  bool    `json:"redis_enabled"`
}

type cacheEntry struct {
	records  []OrbitalElements
	storedAt time.Time
}

// Cache is a TTL cache for parsed element sets keyed by fetch
// identifier. Entries live in process memory; when a Redis client is
// supplied the cache doubles as a shared second level so multiple
// instances reuse each other's fetches. Redis failures degrade to
// memory-only operation.
type Cache struct {
	ttl    time.Duration
	rdb    *redis.Client
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewCache creates a Cache with the given TTL. rdb may be nil for
// memory-only caching.
func NewCache(ttl time.Duration, rdb *redis.Client, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		ttl:     ttl,
		rdb:     rdb,
		logger:  logger,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached element set for key if present and fresh.
func (c *Cache) Get(ctx context.Context, key string) ([]OrbitalElements, bool) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(ent.storedAt) < c.ttl {
		metrics.CacheHit()
		return ent.records, true
	}
	if c.rdb == nil {
		metrics.CacheMiss()
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, redisPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache read failed", "key", key, "error", err)
		}
		metrics.CacheMiss()
		return nil, false
	}
	var records []OrbitalElements
	if err := json.Unmarshal(raw, &records); err != nil {
		c.logger.Warn("discarding corrupt redis cache entry", "key", key, "error", err)
		metrics.CacheMiss()
		return nil, false
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{records: records, storedAt: c.now()}
	c.mu.Unlock()
	metrics.CacheHit()
	return records, true
}

// Put stores records under key in memory and, when configured, Redis.
func (c *Cache) Put(ctx context.Context, key string, records []OrbitalElements) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{records: records, storedAt: c.now()}
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("encoding cache entry for redis failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, redisPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache write failed", "key", key, "error", err)
	}
}

// Stats reports occupancy of the in-process cache level.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	active := 0
	for _, ent := range c.entries {
		if now.Sub(ent.storedAt) < c.ttl {
			active++
		}
	}
	return CacheStats{
		TotalEntries:  len(c.entries),
		ActiveEntries: active,
		TTLHours:      c.ttl.Hours(),
		RedisEnabled:  c.rdb != nil,
	}
}

// Clear drops all cached entries and returns how many in-memory entries
// were removed.
func (c *Cache) Clear(ctx context.Context) int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()

	if c.rdb != nil {
		iter := c.rdb.Scan(ctx, 0, redisPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				c.logger.Warn("redis cache delete failed", "key", iter.Val(), "error", err)
				break
			}
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn("redis cache scan failed", "error", err)
		}
	}
	return n
}
