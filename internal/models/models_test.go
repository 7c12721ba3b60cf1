package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestGridAlign(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		grid Grid
		in   string
		want string
	}{
		{"ten minute mid-bucket", GridTenMinute, "2026-01-07T12:34:56Z", "2026-01-07T12:30:00Z"},
		{"ten minute on boundary", GridTenMinute, "2026-01-07T12:30:00Z", "2026-01-07T12:30:00Z"},
		{"hourly", GridHourly, "2026-01-07T12:59:59Z", "2026-01-07T12:00:00Z"},
		{"daily", GridDaily, "2026-01-07T23:59:59Z", "2026-01-07T00:00:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := time.Parse(time.RFC3339, tc.in)
			want, _ := time.Parse(time.RFC3339, tc.want)
			got := tc.grid.Align(in)
			if !got.Equal(want) {
				t.Fatalf("Align(%s) = %s, want %s", tc.in, got, tc.want)
			}
			if !tc.grid.Aligned(got) {
				t.Fatalf("Aligned(%s) = false after Align", got)
			}
		})
	}
}

func TestGridAlignedModuloStep(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	for _, grid := range []Grid{GridTenMinute, GridHourly, GridDaily} {
		for i := 0; i < 50; i++ {
			ts := base.Add(time.Duration(i) * 7 * time.Minute)
			aligned := grid.Align(ts)
			if aligned.Unix()%int64(grid.Step().Seconds()) != 0 {
				t.Fatalf("%s: aligned %s not congruent to zero modulo step", grid, aligned)
			}
		}
	}
}

func TestReduce(t *testing.T) {
	t.Parallel()

	hour := time.Date(2026, 1, 7, 13, 0, 0, 0, time.UTC)
	bases := []string{"1", "2", "3", "4", "5", "6"}
	highs := []string{"10", "12", "11", "15", "14", "13"}
	lows := []string{"9", "8", "7", "6", "5", "7"}

	var records []BucketRecord
	for i := range bases {
		records = append(records, BucketRecord{
			Token:       "T",
			BucketStart: hour.Add(time.Duration(i) * 10 * time.Minute),
			BaseVolume:  d(bases[i]),
			High:        d(highs[i]),
			Low:         d(lows[i]),
			TradeCount:  1,
		})
	}

	agg := Reduce(records)
	if !agg.BaseVolume.Equal(d("21")) {
		t.Errorf("base volume = %s, want 21", agg.BaseVolume)
	}
	if !agg.High.Equal(d("15")) {
		t.Errorf("high = %s, want 15", agg.High)
	}
	if !agg.Low.Equal(d("5")) {
		t.Errorf("low = %s, want 5", agg.Low)
	}
	if agg.TradeCount != 6 {
		t.Errorf("trade count = %d, want 6", agg.TradeCount)
	}
}

func TestReduceZeroLowIsNoObservation(t *testing.T) {
	t.Parallel()

	records := []BucketRecord{
		{Token: "T", BucketStart: time.Now(), Low: d("0")},
		{Token: "T", BucketStart: time.Now(), Low: d("3")},
		{Token: "T", BucketStart: time.Now(), Low: d("0")},
	}
	if got := Reduce(records).Low; !got.Equal(d("3")) {
		t.Fatalf("low = %s, want 3 (zeros ignored)", got)
	}

	allZero := []BucketRecord{
		{Token: "T", BucketStart: time.Now(), Low: d("0")},
		{Token: "T", BucketStart: time.Now(), Low: d("0")},
	}
	if got := Reduce(allZero).Low; !got.IsZero() {
		t.Fatalf("low = %s, want 0 when every low is zero", got)
	}
}

func TestReduceCommutative(t *testing.T) {
	t.Parallel()

	records := []BucketRecord{
		{Token: "T", BaseVolume: d("1.5"), High: d("9"), Low: d("2"), TradeCount: 3},
		{Token: "T", BaseVolume: d("2.5"), High: d("11"), Low: d("4"), TradeCount: 1},
		{Token: "T", BaseVolume: d("0.25"), High: d("10"), Low: d("0"), TradeCount: 7},
	}
	reversed := []BucketRecord{records[2], records[1], records[0]}

	a, b := Reduce(records), Reduce(reversed)
	if !a.BaseVolume.Equal(b.BaseVolume) || !a.High.Equal(b.High) || !a.Low.Equal(b.Low) || a.TradeCount != b.TradeCount {
		t.Fatalf("reduction not order-independent: %+v vs %+v", a, b)
	}
}

func TestRollUpWeightedPrice(t *testing.T) {
	t.Parallel()

	hour := time.Date(2026, 1, 7, 13, 0, 0, 0, time.UTC)
	records := []BucketRecord{
		{
			Token: "T", BucketStart: hour, BaseVolume: d("10"),
			AveragePrice: decimal.NullDecimal{Decimal: d("2"), Valid: true},
		},
		{
			Token: "T", BucketStart: hour.Add(10 * time.Minute), BaseVolume: d("30"),
			AveragePrice: decimal.NullDecimal{Decimal: d("4"), Valid: true},
		},
		// No price on this one; it must not contribute to the weighting.
		{Token: "T", BucketStart: hour.Add(20 * time.Minute), BaseVolume: d("100")},
	}

	out := RollUp(GridHourly, hour.Add(25*time.Minute), records)
	if !out.BucketStart.Equal(hour) {
		t.Fatalf("bucket start = %s, want %s", out.BucketStart, hour)
	}
	if !out.AveragePrice.Valid {
		t.Fatal("expected a weighted average price")
	}
	// (2*10 + 4*30) / 40 = 3.5
	if !out.AveragePrice.Decimal.Equal(d("3.5")) {
		t.Fatalf("weighted price = %s, want 3.5", out.AveragePrice.Decimal)
	}
	if !out.BaseVolume.Equal(d("140")) {
		t.Fatalf("base volume = %s, want 140", out.BaseVolume)
	}
}

func TestBucketRecordValid(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name string
		rec  BucketRecord
		want bool
	}{
		{"ok", BucketRecord{Token: "T", BucketStart: now, BaseVolume: d("1")}, true},
		{"missing token", BucketRecord{BucketStart: now}, false},
		{"zero time", BucketRecord{Token: "T"}, false},
		{"negative volume", BucketRecord{Token: "T", BucketStart: now, BaseVolume: d("-1")}, false},
		{"negative trades", BucketRecord{Token: "T", BucketStart: now, TradeCount: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Valid(); got != tc.want {
				t.Fatalf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}
