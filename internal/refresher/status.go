package refresher

import (
	"sync"
	"time"

	"swapgrid/internal/models"
)

// maxHistorySnapshots caps the per-service health history at one week of
// hourly snapshots.
const maxHistorySnapshots = 168

// StatusRegistry holds the observability snapshot of every refresher plus a
// ring of hourly health snapshots per service. Not authoritative: the grids
// in the store are the source of truth.
type StatusRegistry struct {
	mu       sync.RWMutex
	statuses map[string]*models.ServiceStatus
	history  map[string][]models.HealthSnapshot
}

func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{
		statuses: make(map[string]*models.ServiceStatus),
		history:  make(map[string][]models.HealthSnapshot),
	}
}

// Register creates the status entry for a service. Idempotent.
func (s *StatusRegistry) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[name]; !ok {
		s.statuses[name] = &models.ServiceStatus{Name: name}
	}
}

// Update applies fn to the named status under the lock.
func (s *StatusRegistry) Update(name string, fn func(*models.ServiceStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[name]
	if !ok {
		st = &models.ServiceStatus{Name: name}
		s.statuses[name] = st
	}
	fn(st)
}

// Get returns a copy of the named status.
func (s *StatusRegistry) Get(name string) (models.ServiceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[name]
	if !ok {
		return models.ServiceStatus{}, false
	}
	return *st, true
}

// All returns a copy of every status, keyed by service name.
func (s *StatusRegistry) All() map[string]models.ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.ServiceStatus, len(s.statuses))
	for name, st := range s.statuses {
		out[name] = *st
	}
	return out
}

// RecordSnapshots appends one health snapshot per registered service,
// evicting beyond the week-long cap. Meant to run hourly.
func (s *StatusRegistry) RecordSnapshots(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, st := range s.statuses {
		snap := models.HealthSnapshot{
			Service:     name,
			TakenAt:     now.UTC(),
			Healthy:     st.Initialized && st.LastError == "",
			Degraded:    st.Degraded,
			RecordCount: st.RecordCount,
			LastError:   st.LastError,
		}
		ring := append(s.history[name], snap)
		if len(ring) > maxHistorySnapshots {
			ring = ring[len(ring)-maxHistorySnapshots:]
		}
		s.history[name] = ring
	}
}

// History returns the snapshots for service taken within the last N hours,
// oldest first.
func (s *StatusRegistry) History(service string, hours int, now time.Time) []models.HealthSnapshot {
	since := now.UTC().Add(-time.Duration(hours) * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.HealthSnapshot
	for _, snap := range s.history[service] {
		if !snap.TakenAt.Before(since) {
			out = append(out, snap)
		}
	}
	return out
}
