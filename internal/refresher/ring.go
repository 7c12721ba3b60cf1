package refresher

import (
	"sync"
	"time"

	"swapgrid/internal/models"
)

// Ring is an in-memory window of recent 10-minute buckets, maintained
// alongside every store write. When the durable store is unreachable the
// read path falls back to it, so rolling-24h output stays servable.
// Not a steady-state mode: the window is bounded and nothing survives a
// restart.
type Ring struct {
	mu     sync.RWMutex
	window time.Duration
	grid   models.Grid
	// token → aligned bucket_start (unix) → record
	buckets map[string]map[int64]models.BucketRecord
}

// NewRing creates a ring holding window worth of buckets on the given grid.
func NewRing(grid models.Grid, window time.Duration) *Ring {
	return &Ring{
		window:  window,
		grid:    grid,
		buckets: make(map[string]map[int64]models.BucketRecord),
	}
}

// Add inserts or overwrites records keyed by (token, aligned bucket_start)
// and evicts everything older than the window.
func (r *Ring) Add(now time.Time, records []models.BucketRecord) {
	cutoff := now.UTC().Add(-r.window).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if !rec.Valid() {
			continue
		}
		start := r.grid.Align(rec.BucketStart)
		if start.Unix() < cutoff {
			continue
		}
		perToken, ok := r.buckets[rec.Token]
		if !ok {
			perToken = make(map[int64]models.BucketRecord)
			r.buckets[rec.Token] = perToken
		}
		rec.BucketStart = start
		// Completeness is monotonic in the ring too.
		if prev, ok := perToken[start.Unix()]; ok && prev.IsComplete {
			rec.IsComplete = true
		}
		perToken[start.Unix()] = rec
	}

	for token, perToken := range r.buckets {
		for start := range perToken {
			if start < cutoff {
				delete(perToken, start)
			}
		}
		if len(perToken) == 0 {
			delete(r.buckets, token)
		}
	}
}

// Rolling24h reduces the buckets with bucket_start in [now-24h, now] into
// per-token aggregates. Empty tokens means all tokens.
func (r *Ring) Rolling24h(now time.Time, tokens []string) map[string]models.RollingAggregate {
	since := now.UTC().Add(-24 * time.Hour).Unix()
	until := now.UTC().Unix()

	var want map[string]struct{}
	if len(tokens) > 0 {
		want = make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			want[t] = struct{}{}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.RollingAggregate)
	for token, perToken := range r.buckets {
		if want != nil {
			if _, ok := want[token]; !ok {
				continue
			}
		}
		var window []models.BucketRecord
		for start, rec := range perToken {
			if start >= since && start <= until {
				window = append(window, rec)
			}
		}
		if len(window) == 0 {
			continue
		}
		out[token] = models.Reduce(window)
	}
	return out
}

// Count returns the number of buckets currently held.
func (r *Ring) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, perToken := range r.buckets {
		n += int64(len(perToken))
	}
	return n
}
