package ai

import (
	"sync"
	"time"
)

type cacheEntry struct {
	response  string
	createdAt time.Time
}

// responseCache is a TTL cache for completed responses keyed by the
// (system prompt, context) fingerprint.
type responseCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached response for key if it has not expired.
func (c *responseCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Since(entry.createdAt) > c.ttl {
		return "", false
	}
	return entry.response, true
}

// Set stores a response under key with the current timestamp.
func (c *responseCache) Set(key, response string) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{response: response, createdAt: time.Now()}
	c.mu.Unlock()
}

// PurgeExpired removes expired entries and returns how many were removed.
func (c *responseCache) PurgeExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear empties the cache and returns how many entries were removed.
func (c *responseCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return size
}

// Size returns the number of entries, expired or not.
func (c *responseCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
