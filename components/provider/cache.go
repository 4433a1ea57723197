package provider

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultCacheTTL cache window of gateway responses
const DefaultCacheTTL = 10 * time.Minute

// DefaultCacheSize maximum number of cached responses
const DefaultCacheSize = 4096

type cacheEntry struct {
	resp    *Response
	expires time.Time
}

// Cache response cache shared across runs.
// Entries are never mutated; Put replaces the entry pointer.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	size    int
	now     func() time.Time
	hits    *atomic.Int64
	misses  *atomic.Int64
}

// NewCache returns a cache, a non positive ttl disables caching
func NewCache(ttl time.Duration, size int, now func() time.Time) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		size:    size,
		now:     now,
		hits:    atomic.NewInt64(0),
		misses:  atomic.NewInt64(0),
	}
}

// Enabled reports whether responses are cached at all
func (c *Cache) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Get returns a copy of the live entry of key
func (c *Cache) Get(key string) (*Response, bool) {
	if !c.Enabled() {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expires) {
		c.misses.Inc()
		return nil, false
	}
	c.hits.Inc()
	ret := entry.resp.clone()
	ret.Cached = true
	return ret, true
}

// Put stores a copy of resp under key
func (c *Cache) Put(key string, resp *Response) {
	if !c.Enabled() || resp == nil {
		return
	}
	now := c.now()
	entry := &cacheEntry{resp: resp.clone(), expires: now.Add(c.ttl)}
	entry.resp.Cached = false
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.size {
		c.evict(now)
	}
	c.entries[key] = entry
}

// evict drops expired entries, then the entry closest to expiry
func (c *Cache) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range c.entries {
		if !now.Before(v.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || v.expires.Before(oldest) {
			oldestKey, oldest = k, v.expires
		}
	}
	if len(c.entries) >= c.size && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, live or not
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counters
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
