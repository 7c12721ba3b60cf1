package refresher

import (
	"testing"
	"time"

	"swapgrid/internal/analytics"
)

func TestParseBuySellRows(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	rows := []analytics.Row{
		{"token": "T", "date": "2026-01-06", "buy_volume": "100", "sell_volume": "80", "buy_count": "12", "sell_count": "9"},
		{"token": "T", "date": "2026-01-07", "buy_volume": "5", "sell_volume": "3", "buy_count": "1", "sell_count": "1"},
		// No token: dropped.
		{"date": "2026-01-06", "buy_volume": "1"},
		// Unparseable date: dropped.
		{"token": "T", "date": "soon", "buy_volume": "1"},
	}

	out := parseBuySellRows(rows, today)
	if len(out) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(out))
	}

	yesterday := out[0]
	if !yesterday.IsComplete {
		t.Error("prior day must be complete")
	}
	if yesterday.BuyVolume.String() != "100" || yesterday.SellCount != 9 {
		t.Errorf("bad row: %+v", yesterday)
	}

	if out[1].IsComplete {
		t.Error("today's row must stay incomplete until the day closes")
	}
}

func TestParsePoolRowsOwnerMapping(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	owners := map[string]string{"OWNER_A": "TOKEN_A"}

	rows := []analytics.Row{
		{"owner": "OWNER_A", "date": "2026-01-06", "base_volume": "10", "target_volume": "20", "trade_count": "4"},
		// Unknown owner: dropped with a warning, never inserted.
		{"owner": "OWNER_X", "date": "2026-01-06", "base_volume": "99"},
		// Alternate column name for the owner key.
		{"pool_owner": "OWNER_A", "date": "2026-01-07", "base_volume": "1"},
	}

	out := parsePoolRows(rows, owners, today)
	if len(out) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(out))
	}
	for _, row := range out {
		if row.Token != "TOKEN_A" {
			t.Fatalf("owner not resolved to token: %+v", row)
		}
	}
	if !out[0].IsComplete || out[1].IsComplete {
		t.Error("completeness split on today boundary is wrong")
	}
	if out[0].TradeCount != 4 {
		t.Errorf("trade count = %d, want 4", out[0].TradeCount)
	}
}

func TestDayRangeParams(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	params := dayRangeParams(from, to)
	if params["start_date"] != "2026-01-01" || params["end_date"] != "2026-01-07" {
		t.Fatalf("bad params: %v", params)
	}
}

func TestWindowParams(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 7, 12, 20, 0, 0, time.UTC)
	params := windowParams(from, to)
	if params["start_time"] != "2026-01-07 12:00:00" || params["end_time"] != "2026-01-07 12:20:00" {
		t.Fatalf("bad params: %v", params)
	}
}
