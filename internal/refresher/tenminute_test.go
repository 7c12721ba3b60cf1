package refresher

import (
	"context"
	"errors"
	"testing"
	"time"

	"swapgrid/internal/analytics"
	"swapgrid/internal/catalogue"
	"swapgrid/internal/models"
)

// fakeRunner is a scripted analytics backend for refresher tests.
type fakeRunner struct {
	rows []analytics.Row
	err  error

	runs      int
	backfills int
}

func (f *fakeRunner) Run(ctx context.Context, queryID int, params map[string]any) (*analytics.QueryResult, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.QueryResult{Rows: f.rows}, nil
}

func (f *fakeRunner) RunBackfill(ctx context.Context, queryID int, params map[string]any) (*analytics.QueryResult, error) {
	f.backfills++
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.QueryResult{Rows: f.rows}, nil
}

func swapRow(token, bucket, base string) analytics.Row {
	return analytics.Row{
		"token":         token,
		"bucket_start":  bucket,
		"base_volume":   base,
		"target_volume": "0",
		"high":          "1",
		"low":           "1",
		"trade_count":   "1",
	}
}

func TestTenMinuteRefreshWithoutStore(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	open := models.GridTenMinute.Align(now)
	closed := open.Add(-10 * time.Minute)

	runner := &fakeRunner{rows: []analytics.Row{
		swapRow("T", closed.Format("2006-01-02 15:04:05"), "10"),
		swapRow("T", open.Format("2006-01-02 15:04:05"), "5"),
	}}
	statuses := NewStatusRegistry()
	ref := NewTenMinuteRefresher(nil, runner, 1, 0, nil, statuses, nil)

	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// Without a store the ring is the only destination and health degrades.
	st, _ := statuses.Get(ServiceTenMinute)
	if !st.Degraded {
		t.Error("status should report degraded without a store")
	}
	if st.RecordCount != 2 {
		t.Errorf("record count = %d, want 2", st.RecordCount)
	}

	agg := ref.Ring().Rolling24h(time.Now().UTC(), nil)
	if !agg["T"].BaseVolume.Equal(d("15")) {
		t.Errorf("ring aggregate = %s, want 15", agg["T"].BaseVolume)
	}
}

func TestTenMinuteRefreshIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	bucket := models.GridTenMinute.Align(now).Add(-10 * time.Minute)
	runner := &fakeRunner{rows: []analytics.Row{
		swapRow("T", bucket.Format("2006-01-02 15:04:05"), "10"),
	}}
	ref := NewTenMinuteRefresher(nil, runner, 1, 0, nil, NewStatusRegistry(), nil)

	// Replaying the same upstream response must converge, not accumulate.
	for i := 0; i < 3; i++ {
		if err := ref.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}

	if n := ref.Ring().Count(); n != 1 {
		t.Fatalf("ring holds %d buckets after replay, want 1", n)
	}
	agg := ref.Ring().Rolling24h(time.Now().UTC(), nil)
	if !agg["T"].BaseVolume.Equal(d("10")) {
		t.Fatalf("aggregate = %s after replay, want 10", agg["T"].BaseVolume)
	}
}

func TestTenMinuteExclusionsApplyAtIngest(t *testing.T) {
	t.Parallel()

	bucket := models.GridTenMinute.Align(time.Now().UTC()).Add(-10 * time.Minute)
	runner := &fakeRunner{rows: []analytics.Row{
		swapRow("KEEP", bucket.Format("2006-01-02 15:04:05"), "1"),
		swapRow("BLOCKED", bucket.Format("2006-01-02 15:04:05"), "9"),
	}}
	ref := NewTenMinuteRefresher(nil, runner, 1, 0,
		catalogue.NewExclusions([]string{"BLOCKED"}), NewStatusRegistry(), nil)

	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	agg := ref.Ring().Rolling24h(time.Now().UTC(), nil)
	if _, ok := agg["BLOCKED"]; ok {
		t.Error("excluded market reached the grid")
	}
	if _, ok := agg["KEEP"]; !ok {
		t.Error("allowed market missing")
	}
}

func TestTenMinuteFeeFallbackDerivesTargetVolume(t *testing.T) {
	t.Parallel()

	bucket := models.GridTenMinute.Align(time.Now().UTC()).Add(-10 * time.Minute)
	row := swapRow("T", bucket.Format("2006-01-02 15:04:05"), "10")
	row["target_volume"] = "0"
	row["usdc_fees"] = "25"

	runner := &fakeRunner{rows: []analytics.Row{row}}
	ref := NewTenMinuteRefresher(nil, runner, 1, 0, nil, NewStatusRegistry(), nil,
		WithFeeRate(d("0.0025")))

	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	agg := ref.Ring().Rolling24h(time.Now().UTC(), nil)
	// 25 in fees at a 0.25% rate implies 10000 of volume.
	if !agg["T"].TargetVolume.Equal(d("10000")) {
		t.Fatalf("target volume = %s, want 10000 from fee fallback", agg["T"].TargetVolume)
	}
}

func TestTenMinuteBackfillPropagatesQuota(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: analytics.ErrQuotaExceeded}
	ref := NewTenMinuteRefresher(nil, runner, 1, 2, nil, NewStatusRegistry(), nil)

	_, err := ref.BackfillRange(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, analytics.ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded unchanged", err)
	}
	if runner.backfills != 1 {
		t.Fatalf("backfill attempts = %d, want 1", runner.backfills)
	}
}

func TestTenMinuteRefreshSurfacesUpstreamErrors(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: analytics.ErrAuth}
	statuses := NewStatusRegistry()
	ref := NewTenMinuteRefresher(nil, runner, 1, 0, nil, statuses, nil)

	if err := ref.Refresh(context.Background()); !errors.Is(err, analytics.ErrAuth) {
		t.Fatalf("got %v, want ErrAuth", err)
	}
	st, _ := statuses.Get(ServiceTenMinute)
	if st.LastError == "" {
		t.Error("last error not recorded in status")
	}
}

func TestReadAPIFallsBackToRing(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	ring := NewRing(models.GridTenMinute, 48*time.Hour)
	ring.Add(now, []models.BucketRecord{
		{Token: "T", BucketStart: models.GridTenMinute.Align(now), BaseVolume: d("4"), TradeCount: 1},
	})

	// No store wired at all: the ring must carry the read path.
	readAPI := NewReadAPI(nil, ring)
	agg := readAPI.Rolling24h(context.Background(), nil)
	if !agg["T"].BaseVolume.Equal(d("4")) {
		t.Fatalf("ring fallback aggregate = %+v", agg["T"])
	}
	if !readAPI.Degraded(context.Background()) {
		t.Error("read API should report degraded without a store")
	}
}

func TestReadAPIEmptyWhenNoData(t *testing.T) {
	t.Parallel()

	readAPI := NewReadAPI(nil, NewRing(models.GridTenMinute, 48*time.Hour))
	agg := readAPI.Rolling24h(context.Background(), nil)
	if len(agg) != 0 {
		t.Fatalf("expected empty mapping, got %d entries", len(agg))
	}
}
