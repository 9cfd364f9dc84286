package upstream

import (
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the read-cache TTL when the caller does not override it.
const DefaultCacheTTL = 5 * time.Minute

// cacheEntry is one cached response body.
type cacheEntry struct {
	data   []byte
	expiry time.Time
}

// Cache is a TTL response cache with key-prefix invalidation. Entries are
// never served past their expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached data for key if present and unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiry) {
		return nil, false
	}
	return entry.data, true
}

// Set stores data under key for ttl.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: data, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns the number removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
