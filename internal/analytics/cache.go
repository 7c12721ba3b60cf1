package analytics

import (
	"sync"
	"time"
)

// resultCache keeps completed query results in memory so a refresh cycle
// never pays for the same execution twice.
type resultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	result    *QueryResult
	expiresAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

func (c *resultCache) get(key string) (*QueryResult, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

func (c *resultCache) set(key string, result *QueryResult) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic sweep; the map only holds a cycle's worth of keys.
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &cacheEntry{result: result, expiresAt: now.Add(c.ttl)}
}
