package refresher

import (
	"context"
	"log"
	"sync"
	"time"

	"swapgrid/internal/models"
	"swapgrid/internal/repository"
)

// ReadAPI serves rolling-24h metrics with tiered resolution: the 10-minute
// grid when it has rows in the window, else the hourly grid, else the last
// in-memory snapshot, else empty. When the store is unreachable it reads
// the refresher's memory ring instead.
type ReadAPI struct {
	store *repository.Repository
	ring  *Ring

	mu         sync.RWMutex
	snapshot   map[string]models.RollingAggregate
	snapshotAt time.Time
}

func NewReadAPI(store *repository.Repository, ring *Ring) *ReadAPI {
	return &ReadAPI{store: store, ring: ring}
}

// Rolling24h returns per-token aggregates for the window [now-24h, now].
// Never fails: exhausted tiers produce an empty map.
func (a *ReadAPI) Rolling24h(ctx context.Context, tokens []string) map[string]models.RollingAggregate {
	now := time.Now().UTC()

	if a.store != nil {
		for _, grid := range []models.Grid{models.GridTenMinute, models.GridHourly} {
			agg, err := a.store.Rolling24h(ctx, grid, tokens, now)
			if err != nil {
				log.Printf("[read_api] rolling 24h on %s failed: %v", grid, err)
				break
			}
			if len(agg) > 0 {
				// Only unfiltered reads are worth caching whole.
				if len(tokens) == 0 {
					a.keepSnapshot(agg, now)
				}
				return agg
			}
		}
	}

	if a.ring != nil {
		if agg := a.ring.Rolling24h(now, tokens); len(agg) > 0 {
			return agg
		}
	}

	a.mu.RLock()
	snap, at := a.snapshot, a.snapshotAt
	a.mu.RUnlock()
	if len(snap) > 0 {
		log.Printf("[read_api] serving cached snapshot from %s", at.Format(time.RFC3339))
		return filterTokens(snap, tokens)
	}

	log.Printf("[read_api] no data in any tier, returning empty metrics")
	return map[string]models.RollingAggregate{}
}

// Degraded reports whether the last successful read came from a fallback tier.
func (a *ReadAPI) Degraded(ctx context.Context) bool {
	if a.store == nil {
		return true
	}
	return a.store.Ping(ctx) != nil
}

func (a *ReadAPI) keepSnapshot(agg map[string]models.RollingAggregate, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = agg
	a.snapshotAt = now
}

func filterTokens(agg map[string]models.RollingAggregate, tokens []string) map[string]models.RollingAggregate {
	if len(tokens) == 0 {
		return agg
	}
	out := make(map[string]models.RollingAggregate, len(tokens))
	for _, t := range tokens {
		if v, ok := agg[t]; ok {
			out[t] = v
		}
	}
	return out
}
