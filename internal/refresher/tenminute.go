package refresher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"swapgrid/internal/analytics"
	"swapgrid/internal/catalogue"
	"swapgrid/internal/eventbus"
	"swapgrid/internal/metrics"
	"swapgrid/internal/models"
	"swapgrid/internal/repository"
)

// Service names as they appear in statuses, health history and events.
const (
	ServiceTenMinute     = "ten_minute_refresher"
	ServiceHourly        = "hourly_aggregator"
	ServiceDaily         = "daily_aggregator"
	ServiceSupplementary = "supplementary_fetcher"
)

// Runner is the slice of the analytics client the refreshers consume.
type Runner interface {
	Run(ctx context.Context, queryID int, params map[string]any) (*analytics.QueryResult, error)
	RunBackfill(ctx context.Context, queryID int, params map[string]any) (*analytics.QueryResult, error)
}

// upstreamTimeFormat is how window bounds are passed to upstream query
// parameters.
const upstreamTimeFormat = "2006-01-02 15:04:05"

// TenMinuteRefresher owns the authoritative 10-minute grid. It pulls swap
// aggregates from upstream on every 10-minute boundary, writes them to the
// store, and mirrors them into the in-memory ring so reads survive a store
// outage.
type TenMinuteRefresher struct {
	store      *repository.Repository
	runner     Runner
	queryID    int
	backfillID int
	exclusions catalogue.Exclusions
	feeRate    decimal.Decimal
	ring       *Ring
	statuses   *StatusRegistry
	bus        *eventbus.Bus
}

// TenMinuteOption tweaks refresher construction.
type TenMinuteOption func(*TenMinuteRefresher)

// WithFeeRate enables the volume-from-fees fallback: rows carrying fees but
// no target volume derive one as fees divided by the protocol fee rate.
func WithFeeRate(rate decimal.Decimal) TenMinuteOption {
	return func(t *TenMinuteRefresher) { t.feeRate = rate }
}

func NewTenMinuteRefresher(store *repository.Repository, runner Runner, queryID, backfillID int, exclusions catalogue.Exclusions, statuses *StatusRegistry, bus *eventbus.Bus, opts ...TenMinuteOption) *TenMinuteRefresher {
	statuses.Register(ServiceTenMinute)
	t := &TenMinuteRefresher{
		store:      store,
		runner:     runner,
		queryID:    queryID,
		backfillID: backfillID,
		exclusions: exclusions,
		ring:       NewRing(models.GridTenMinute, 48*time.Hour),
		statuses:   statuses,
		bus:        bus,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ring exposes the in-memory fallback window for the read path.
func (t *TenMinuteRefresher) Ring() *Ring { return t.ring }

// Initialize bootstraps the grid: backfills from the newer of the latest
// stored bucket and now-24h up to now. The service comes up ready even on a
// partial failure as long as the store already holds rows; the historical
// data is still servable.
func (t *TenMinuteRefresher) Initialize(ctx context.Context) error {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	if t.store != nil {
		latest, ok, err := t.store.LatestBucket(ctx, models.GridTenMinute)
		if err != nil {
			log.Printf("[ten_minute_refresher] latest bucket lookup failed, backfilling full day: %v", err)
		} else if ok && latest.After(from) {
			from = latest
		}
	}

	err := t.ingestWindow(ctx, from, now, false)
	ready := err == nil
	if !ready && t.store != nil {
		if n, cErr := t.store.CountRows(ctx, models.GridTenMinute); cErr == nil && n > 0 {
			log.Printf("[ten_minute_refresher] bootstrap backfill failed but store holds %d rows, marking ready: %v", n, err)
			ready = true
		}
	}

	t.statuses.Update(ServiceTenMinute, func(st *models.ServiceStatus) {
		st.Initialized = ready
		if err != nil {
			st.LastError = err.Error()
		}
	})
	if !ready {
		return fmt.Errorf("ten minute bootstrap: %w", err)
	}
	return nil
}

// Refresh runs one cycle: fetch the last 20 minutes, split complete from
// incomplete buckets, upsert both, and seal everything older than the
// currently open bucket. The 20-minute window deliberately overlaps the
// previous cycle to absorb upstream lateness; upserts make the overlap
// harmless.
func (t *TenMinuteRefresher) Refresh(ctx context.Context) error {
	now := time.Now().UTC()

	t.statuses.Update(ServiceTenMinute, func(st *models.ServiceStatus) { st.Refreshing = true })
	defer t.statuses.Update(ServiceTenMinute, func(st *models.ServiceStatus) { st.Refreshing = false })

	err := t.ingestWindow(ctx, now.Add(-20*time.Minute), now, false)

	t.statuses.Update(ServiceTenMinute, func(st *models.ServiceStatus) {
		st.LastRefreshTime = now
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
		}
	})
	if err != nil {
		metrics.RefreshErrors.WithLabelValues(ServiceTenMinute).Inc()
		if t.bus != nil {
			t.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshFailed, Service: ServiceTenMinute, Timestamp: now, Err: err.Error()})
		}
		return err
	}
	metrics.RefreshRuns.WithLabelValues(ServiceTenMinute).Inc()
	metrics.LastRefreshUnix.WithLabelValues(ServiceTenMinute).Set(float64(now.Unix()))
	return nil
}

// BackfillRange re-ingests [start, end] through the backfill query. The
// whole range is skipped when no row inside it is missing the extended
// fields. A quota error is propagated unchanged so the driving script can
// stop its pass.
func (t *TenMinuteRefresher) BackfillRange(ctx context.Context, start, end time.Time) (int, error) {
	if t.store != nil {
		missing, err := t.store.MissingExtendedCount(ctx, start, end)
		if err != nil {
			log.Printf("[ten_minute_refresher] missing-extended check failed, backfilling anyway: %v", err)
		} else if missing == 0 {
			log.Printf("[ten_minute_refresher] range %s..%s fully populated, skipping",
				start.Format(upstreamTimeFormat), end.Format(upstreamTimeFormat))
			return 0, nil
		}
	}

	queryID := t.backfillID
	if queryID == 0 {
		queryID = t.queryID
	}
	res, err := t.runner.RunBackfill(ctx, queryID, windowParams(start, end))
	if err != nil {
		metrics.UpstreamQueries.WithLabelValues(outcomeLabel(err)).Inc()
		if errors.Is(err, analytics.ErrQuotaExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("backfill %s..%s: %w", start.Format(upstreamTimeFormat), end.Format(upstreamTimeFormat), err)
	}
	metrics.UpstreamQueries.WithLabelValues("ok").Inc()

	records := t.parseRows(res.Rows)
	return t.writeSplit(ctx, records, time.Now().UTC())
}

// ingestWindow fetches [from, to] and writes the result. bypassCache skips
// the client-side response cache; only backfills want that.
func (t *TenMinuteRefresher) ingestWindow(ctx context.Context, from, to time.Time, bypassCache bool) error {
	if t.runner == nil || t.queryID == 0 {
		log.Printf("[ten_minute_refresher] analytics disabled, skipping fetch")
		return nil
	}

	var (
		res *analytics.QueryResult
		err error
	)
	if bypassCache {
		res, err = t.runner.RunBackfill(ctx, t.queryID, windowParams(from, to))
	} else {
		res, err = t.runner.Run(ctx, t.queryID, windowParams(from, to))
	}
	if err != nil {
		metrics.UpstreamQueries.WithLabelValues(outcomeLabel(err)).Inc()
		return err
	}
	metrics.UpstreamQueries.WithLabelValues("ok").Inc()

	records := t.parseRows(res.Rows)
	_, err = t.writeSplit(ctx, records, to)
	return err
}

// parseRows projects upstream rows to bucket records, dropping excluded
// markets and unparseable rows. One sample of each failure kind is logged.
func (t *TenMinuteRefresher) parseRows(rows []analytics.Row) []models.BucketRecord {
	records := make([]models.BucketRecord, 0, len(rows))
	var badSample error
	dropped, excluded := 0, 0

	for _, row := range rows {
		rec, err := analytics.ParseSwapRow(row)
		if err != nil {
			dropped++
			if badSample == nil {
				badSample = err
			}
			continue
		}
		if t.exclusions.Excluded(rec.Token) {
			excluded++
			continue
		}
		if rec.TargetVolume.IsZero() && t.feeRate.IsPositive() && rec.USDCFees.Valid && rec.USDCFees.Decimal.IsPositive() {
			rec.TargetVolume = rec.USDCFees.Decimal.Div(t.feeRate)
		}
		records = append(records, rec)
	}

	if dropped > 0 {
		log.Printf("[ten_minute_refresher] dropped %d unparseable rows (sample: %v)", dropped, badSample)
	}
	if excluded > 0 {
		log.Printf("[ten_minute_refresher] dropped %d rows for excluded markets", excluded)
	}
	return records
}

// writeSplit separates records into complete (bucket fully elapsed) and
// incomplete, upserts both with the matching flag, seals older buckets, and
// mirrors everything into the ring.
func (t *TenMinuteRefresher) writeSplit(ctx context.Context, records []models.BucketRecord, now time.Time) (int, error) {
	currentBucket := models.GridTenMinute.Align(now)

	var complete, incomplete []models.BucketRecord
	for _, rec := range records {
		if models.GridTenMinute.Align(rec.BucketStart).Before(currentBucket) {
			rec.IsComplete = true
			complete = append(complete, rec)
		} else {
			incomplete = append(incomplete, rec)
		}
	}

	t.ring.Add(now, append(complete, incomplete...))
	t.statuses.Update(ServiceTenMinute, func(st *models.ServiceStatus) {
		st.RecordCount = t.ring.Count()
	})

	if t.store == nil {
		t.setDegraded(true)
		return len(records), nil
	}

	written := 0
	n, err := t.store.UpsertBuckets(ctx, models.GridTenMinute, complete, true)
	written += n
	if err == nil {
		n, err = t.store.UpsertBuckets(ctx, models.GridTenMinute, incomplete, false)
		written += n
	}
	if err != nil {
		if errors.Is(err, repository.ErrStoreUnavailable) {
			t.setDegraded(true)
			log.Printf("[ten_minute_refresher] store unavailable, serving from memory ring: %v", err)
			return written, nil
		}
		return written, err
	}
	t.setDegraded(false)
	metrics.RowsUpserted.WithLabelValues(string(models.GridTenMinute)).Add(float64(written))

	// Safety net: anything older than the open bucket is final regardless of
	// which batch carried it.
	if _, err := t.store.MarkComplete(ctx, models.GridTenMinute, currentBucket); err != nil {
		log.Printf("[ten_minute_refresher] mark complete failed: %v", err)
	}

	if t.bus != nil {
		t.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRefreshComplete, Service: ServiceTenMinute,
			Timestamp: now, Rows: written,
		})
	}
	return written, nil
}

func (t *TenMinuteRefresher) setDegraded(degraded bool) {
	t.statuses.Update(ServiceTenMinute, func(st *models.ServiceStatus) { st.Degraded = degraded })
}

func windowParams(from, to time.Time) map[string]any {
	return map[string]any{
		"start_time": from.UTC().Format(upstreamTimeFormat),
		"end_time":   to.UTC().Format(upstreamTimeFormat),
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, analytics.ErrAuth):
		return "auth"
	case errors.Is(err, analytics.ErrQuotaExceeded):
		return "quota"
	case analytics.IsTransient(err):
		return "transient"
	default:
		return "failed"
	}
}
