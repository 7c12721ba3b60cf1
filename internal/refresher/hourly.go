package refresher

import (
	"context"
	"fmt"
	"log"
	"time"

	"swapgrid/internal/eventbus"
	"swapgrid/internal/metrics"
	"swapgrid/internal/models"
	"swapgrid/internal/repository"
)

// HourlyAggregator keeps the hourly grid consistent with the 10-minute grid.
// Two cadences: the open hour is re-aggregated on every 10-minute boundary
// (incomplete), and the hour that just closed is sealed at :01 past the hour.
type HourlyAggregator struct {
	store    *repository.Repository
	statuses *StatusRegistry
	bus      *eventbus.Bus
}

func NewHourlyAggregator(store *repository.Repository, statuses *StatusRegistry, bus *eventbus.Bus) *HourlyAggregator {
	statuses.Register(ServiceHourly)
	return &HourlyAggregator{store: store, statuses: statuses, bus: bus}
}

// Initialize re-aggregates every hour not yet sealed, then seals everything
// older than the currently open hour.
func (h *HourlyAggregator) Initialize(ctx context.Context) error {
	err := h.FullRefresh(ctx)
	h.statuses.Update(ServiceHourly, func(st *models.ServiceStatus) {
		st.Initialized = err == nil
		if err != nil {
			st.LastError = err.Error()
		}
	})
	return err
}

// RefreshOpenHour re-aggregates the currently open hour, incomplete.
func (h *HourlyAggregator) RefreshOpenHour(ctx context.Context) error {
	now := time.Now().UTC()
	open := models.GridHourly.Align(now)
	return h.run(ctx, "open hour", func() (int64, error) {
		return h.store.Aggregate10MinToHourly(ctx, "", &open, false)
	})
}

// SealClosedHour re-aggregates the hour that just closed and marks it complete.
func (h *HourlyAggregator) SealClosedHour(ctx context.Context) error {
	now := time.Now().UTC()
	closed := models.GridHourly.Align(now).Add(-time.Hour)
	return h.run(ctx, "seal hour", func() (int64, error) {
		return h.store.Aggregate10MinToHourly(ctx, "", &closed, true)
	})
}

// FullRefresh aggregates every currently unsealed hour in one scan, then
// seals everything strictly older than the open hour.
func (h *HourlyAggregator) FullRefresh(ctx context.Context) error {
	now := time.Now().UTC()
	open := models.GridHourly.Align(now)
	return h.run(ctx, "full refresh", func() (int64, error) {
		n, err := h.store.Aggregate10MinToHourly(ctx, "", nil, false)
		if err != nil {
			return n, err
		}
		if _, err := h.store.MarkComplete(ctx, models.GridHourly, open); err != nil {
			return n, err
		}
		return n, nil
	})
}

func (h *HourlyAggregator) run(ctx context.Context, what string, fn func() (int64, error)) error {
	if h.store == nil {
		log.Printf("[hourly_aggregator] no store, skipping %s", what)
		return nil
	}
	now := time.Now().UTC()

	rows, err := fn()
	h.statuses.Update(ServiceHourly, func(st *models.ServiceStatus) {
		st.LastRefreshTime = now
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
			st.RecordCount = rows
		}
	})
	if err != nil {
		metrics.RefreshErrors.WithLabelValues(ServiceHourly).Inc()
		if h.bus != nil {
			h.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshFailed, Service: ServiceHourly, Timestamp: now, Err: err.Error()})
		}
		return fmt.Errorf("hourly %s: %w", what, err)
	}

	metrics.RefreshRuns.WithLabelValues(ServiceHourly).Inc()
	metrics.LastRefreshUnix.WithLabelValues(ServiceHourly).Set(float64(now.Unix()))
	metrics.RowsUpserted.WithLabelValues(string(models.GridHourly)).Add(float64(rows))
	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshComplete, Service: ServiceHourly, Timestamp: now, Rows: int(rows)})
	}
	return nil
}
