package refresher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swapgrid/internal/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRingRolling24h(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 7, 12, 35, 0, 0, time.UTC)
	ring := NewRing(models.GridTenMinute, 48*time.Hour)

	ring.Add(now, []models.BucketRecord{{
		Token:        "T",
		BucketStart:  time.Date(2026, 1, 7, 12, 30, 0, 0, time.UTC),
		BaseVolume:   d("10"),
		TargetVolume: d("500"),
		High:         d("52"),
		Low:          d("48"),
		TradeCount:   3,
	}})

	agg := ring.Rolling24h(now, []string{"T"})
	got, ok := agg["T"]
	if !ok {
		t.Fatal("token missing from aggregate")
	}
	if !got.BaseVolume.Equal(d("10")) || !got.TargetVolume.Equal(d("500")) {
		t.Fatalf("volumes = %s/%s, want 10/500", got.BaseVolume, got.TargetVolume)
	}
	if !got.High.Equal(d("52")) || !got.Low.Equal(d("48")) || got.TradeCount != 3 {
		t.Fatalf("bad aggregate: %+v", got)
	}
}

func TestRingWindowBoundary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	ring := NewRing(models.GridTenMinute, 48*time.Hour)

	ring.Add(now, []models.BucketRecord{
		// One second before the window opens: excluded.
		{Token: "T", BucketStart: now.Add(-24*time.Hour - time.Second), BaseVolume: d("100"), TradeCount: 1},
		// Just inside the window: included.
		{Token: "T", BucketStart: now.Add(-23*time.Hour - 59*time.Minute - 50*time.Second), BaseVolume: d("7"), TradeCount: 1},
		// The bucket at now itself: included.
		{Token: "T", BucketStart: now, BaseVolume: d("3"), TradeCount: 1},
	})

	agg := ring.Rolling24h(now, nil)
	got := agg["T"]
	if !got.BaseVolume.Equal(d("10")) {
		t.Fatalf("base volume = %s, want 10 (boundary row excluded, edge rows included)", got.BaseVolume)
	}
	if got.TradeCount != 2 {
		t.Fatalf("trade count = %d, want 2", got.TradeCount)
	}
}

func TestRingEviction(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	ring := NewRing(models.GridTenMinute, 48*time.Hour)

	ring.Add(start, []models.BucketRecord{
		{Token: "T", BucketStart: start.Add(-time.Hour), BaseVolume: d("1"), TradeCount: 1},
	})
	if ring.Count() != 1 {
		t.Fatalf("count = %d, want 1", ring.Count())
	}

	// Three days later the old bucket is outside the window and a new add
	// must evict it.
	later := start.Add(72 * time.Hour)
	ring.Add(later, []models.BucketRecord{
		{Token: "T", BucketStart: later, BaseVolume: d("2"), TradeCount: 1},
	})
	if ring.Count() != 1 {
		t.Fatalf("count = %d after eviction, want 1", ring.Count())
	}
	if agg := ring.Rolling24h(later, nil); !agg["T"].BaseVolume.Equal(d("2")) {
		t.Fatalf("stale bucket survived eviction: %+v", agg["T"])
	}
}

func TestRingUpsertOverwrites(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 7, 12, 35, 0, 0, time.UTC)
	bucket := time.Date(2026, 1, 7, 12, 30, 0, 0, time.UTC)
	ring := NewRing(models.GridTenMinute, 48*time.Hour)

	ring.Add(now, []models.BucketRecord{{Token: "T", BucketStart: bucket, BaseVolume: d("5"), TradeCount: 1, IsComplete: true}})
	// Replay with new numbers but incomplete: numbers overwrite, the
	// complete flag must survive.
	ring.Add(now, []models.BucketRecord{{Token: "T", BucketStart: bucket, BaseVolume: d("8"), TradeCount: 2}})

	if ring.Count() != 1 {
		t.Fatalf("count = %d, want 1 (same key upserted)", ring.Count())
	}
	agg := ring.Rolling24h(now, nil)
	if !agg["T"].BaseVolume.Equal(d("8")) {
		t.Fatalf("base volume = %s, want overwritten 8", agg["T"].BaseVolume)
	}
}

func TestStatusRegistryHistory(t *testing.T) {
	t.Parallel()

	reg := NewStatusRegistry()
	reg.Register("svc")
	reg.Update("svc", func(st *models.ServiceStatus) {
		st.Initialized = true
		st.RecordCount = 10
	})

	base := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		reg.RecordSnapshots(base.Add(time.Duration(i) * time.Hour))
	}

	all := reg.History("svc", 168, base.Add(200*time.Hour))
	if len(all) > maxHistorySnapshots {
		t.Fatalf("history grew past the cap: %d", len(all))
	}

	recent := reg.History("svc", 2, base.Add(199*time.Hour))
	if len(recent) != 3 {
		t.Fatalf("recent snapshots = %d, want 3 (hours 197, 198, 199)", len(recent))
	}
	for _, snap := range recent {
		if !snap.Healthy {
			t.Fatalf("snapshot should be healthy: %+v", snap)
		}
	}
}
