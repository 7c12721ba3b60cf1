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

// DailyAggregator keeps the daily grid consistent with the hourly grid.
// Scheduled once a day at 00:05 UTC: it seals the day that just closed,
// re-aggregates today as incomplete, and recomputes the cumulative columns.
type DailyAggregator struct {
	store    *repository.Repository
	statuses *StatusRegistry
	bus      *eventbus.Bus
}

func NewDailyAggregator(store *repository.Repository, statuses *StatusRegistry, bus *eventbus.Bus) *DailyAggregator {
	statuses.Register(ServiceDaily)
	return &DailyAggregator{store: store, statuses: statuses, bus: bus}
}

// Initialize aggregates every unsealed day, seals days older than today and
// refreshes the cumulative columns.
func (d *DailyAggregator) Initialize(ctx context.Context) error {
	err := d.refresh(ctx, true)
	d.statuses.Update(ServiceDaily, func(st *models.ServiceStatus) {
		st.Initialized = err == nil
		if err != nil {
			st.LastError = err.Error()
		}
	})
	return err
}

// Refresh is the daily 00:05 UTC run.
func (d *DailyAggregator) Refresh(ctx context.Context) error {
	return d.refresh(ctx, false)
}

func (d *DailyAggregator) refresh(ctx context.Context, full bool) error {
	if d.store == nil {
		log.Printf("[daily_aggregator] no store, skipping")
		return nil
	}
	now := time.Now().UTC()
	today := models.GridDaily.Align(now)
	yesterday := today.AddDate(0, 0, -1)

	var rows int64
	var err error
	if full {
		// Every unsealed day in one scan.
		rows, err = d.store.AggregateHourlyToDaily(ctx, "", nil, false)
	} else {
		rows, err = d.store.AggregateHourlyToDaily(ctx, "", &yesterday, true)
		if err == nil {
			var n int64
			n, err = d.store.AggregateHourlyToDaily(ctx, "", &today, false)
			rows += n
		}
	}
	if err == nil {
		_, err = d.store.MarkComplete(ctx, models.GridDaily, today)
	}
	if err == nil {
		err = d.store.RefreshDailyCumulatives(ctx)
	}

	d.statuses.Update(ServiceDaily, func(st *models.ServiceStatus) {
		st.LastRefreshTime = now
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
			st.RecordCount = rows
		}
	})
	if err != nil {
		metrics.RefreshErrors.WithLabelValues(ServiceDaily).Inc()
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshFailed, Service: ServiceDaily, Timestamp: now, Err: err.Error()})
		}
		return fmt.Errorf("daily aggregate: %w", err)
	}

	metrics.RefreshRuns.WithLabelValues(ServiceDaily).Inc()
	metrics.LastRefreshUnix.WithLabelValues(ServiceDaily).Set(float64(now.Unix()))
	metrics.RowsUpserted.WithLabelValues(string(models.GridDaily)).Add(float64(rows))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshComplete, Service: ServiceDaily, Timestamp: now, Rows: int(rows)})
	}
	return nil
}
