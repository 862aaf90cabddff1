// Package cache is a two-tier TTL cache: in-process map in front of an
// optional Redis backend. Values are opaque JSON-encoded bytes owned by the
// caller.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"danmuhub/danmuservice/internal/metrics"
)

const defaultMaxEntries = 2000

type entry struct {
	value     []byte
	updatedAt time.Time
	expiresAt time.Time
}

// Cache is safe for concurrent use. A nil *Cache is a valid no-op cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	redis      *RedisBackend
	group      singleflight.Group
	now        func() time.Time
}

type Options struct {
	// MaxEntries bounds the in-memory tier; oldest entries are trimmed.
	MaxEntries int
	// Redis enables the second tier. May be nil.
	Redis *RedisBackend
	// Now overrides the clock in tests.
	Now func() time.Time
}

func New(opts Options) *Cache {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		redis:      opts.Redis,
		now:        now,
	}
}

// Get returns the cached value if present and unexpired. Expired entries are
// removed on read. A Redis hit is copied into the memory tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			value := e.value
			c.mu.Unlock()
			metrics.CacheHitsTotal.Inc()
			return value, true
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.redis != nil {
		if value, ttl, found, err := c.redis.Get(ctx, key); err == nil && found {
			metrics.CacheHitsTotal.Inc()
			c.storeMemory(key, value, ttl, now)
			return value, true
		}
	}

	metrics.CacheMissesTotal.Inc()
	return nil, false
}

// Set stores the value in both tiers. A non-positive ttl means the value is
// not cacheable and the call is a no-op.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	now := c.now()
	c.storeMemory(key, value, ttl, now)
	if c.redis != nil {
		// Redis failures degrade to memory-only silently.
		_ = c.redis.Set(ctx, key, value, ttl)
	}
}

// GetOrCompute returns the cached value or computes it, guaranteeing a single
// in-flight computation per key across concurrent callers. With ttl <= 0 the
// cache tiers are bypassed but the single-flight guarantee still holds.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return compute(ctx)
	}
	if ttl > 0 {
		if value, ok := c.Get(ctx, key); ok {
			return value, nil
		}
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		if ttl > 0 {
			if value, ok := c.Get(ctx, key); ok {
				return value, nil
			}
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Cache) storeMemory(key string, value []byte, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		value:     value,
		updatedAt: now,
		expiresAt: now.Add(ttl),
	}
	c.trimLocked(now)
}

func (c *Cache) trimLocked(now time.Time) {
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}
	type pair struct {
		key string
		e   *entry
	}
	items := make([]pair, 0, len(c.entries))
	for key, e := range c.entries {
		items = append(items, pair{key, e})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].e.updatedAt.Before(items[j].e.updatedAt)
	})
	for i := 0; i < len(items)-c.maxEntries; i++ {
		delete(c.entries, items[i].key)
	}
}
