package api

import (
	"net/http"
	"sync"
	"time"
)

// responseCache holds rendered JSON bodies keyed by request path and query
// string, so a burst of identical requests pays for one render. Entries
// expire after the cache's TTL; expired keys are swept opportunistically on
// write.
type responseCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*respEntry
}

type respEntry struct {
	body      []byte
	expiresAt time.Time
}

// newResponseCache builds a cache with the given TTL. A zero or negative
// TTL disables caching entirely.
func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]*respEntry),
	}
}

func (c *responseCache) get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.body, true
}

func (c *responseCache) set(key string, body []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic sweep; the key space is one entry per distinct query
	// string.
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &respEntry{body: body, expiresAt: now.Add(c.ttl)}
}

// wrap serves a handler through the cache. Only 2xx responses with a body
// are stored. Hits carry an X-Cache header so operators can tell served
// responses apart from rendered ones.
func (c *responseCache) wrap(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "?" + r.URL.RawQuery

		if body, ok := c.get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(body)
			return
		}

		rec := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		handler(rec, r)

		if rec.statusCode >= 200 && rec.statusCode < 300 && len(rec.body) > 0 {
			c.set(key, rec.body)
		}
	}
}

// responseRecorder tees the handler's output so the body can be cached
// while still being written to the client.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}
