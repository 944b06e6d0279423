package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is applied when Set is called with a zero ttl.
const DefaultTTL = 5 * time.Minute

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type item struct {
	data       any
	insertedAt time.Time
	ttl        time.Duration
}

func (it item) expiresAt() time.Time { return it.insertedAt.Add(it.ttl) }

// Cache is a size-bounded TTL key/value cache. When the bound is reached the
// oldest entry by insertion time is evicted, not the least recently used one.
// Invalidation is manual: mutation paths call Delete/DeletePattern themselves.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]item
	maxEntries int
	defaultTTL time.Duration
	clock      Clock
}

// Option configures the cache.
type Option func(*Cache)

// WithMaxEntries bounds the cache size.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithDefaultTTL overrides the default entry lifetime.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New constructs a cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items:      make(map[string]item),
		maxEntries: 1000,
		defaultTTL: DefaultTTL,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key when present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(it.expiresAt()) {
		c.Delete(key)
		return nil, false
	}
	return it.data, true
}

// Set stores a value with its own ttl. A zero ttl uses the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()
	c.mu.Lock()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.items[key] = item{data: value, insertedAt: now, ttl: ttl}
	c.mu.Unlock()
}

// GetOrSet returns the cached value for key, loading and storing it on a miss.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (any, error)) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, value, ttl)
	return value, nil
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeletePattern removes every key matching the pattern. A trailing '*' matches
// any suffix; without it the pattern is an exact key.
func (c *Cache) DeletePattern(pattern string) int {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.items {
		if (wildcard && strings.HasPrefix(key, prefix)) || (!wildcard && key == pattern) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, it := range c.items {
		if !now.Before(it.expiresAt()) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on a fixed interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// caller holds c.mu
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, it := range c.items {
		if oldestKey == "" || it.insertedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = it.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
