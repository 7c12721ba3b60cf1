package catalogue

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"swapgrid/internal/models"
)

func TestStaticFiltersExclusions(t *testing.T) {
	t.Parallel()

	markets := []models.Market{
		{BaseToken: "A", QuoteToken: "USDC", PoolID: "pool-a"},
		{BaseToken: "B", QuoteToken: "USDC", PoolID: "pool-b"},
		{BaseToken: "C", QuoteToken: "USDC", PoolID: "pool-c"},
	}

	// Exclusions match by pool id or by base token.
	cat := NewStatic(markets, NewExclusions([]string{"pool-b", "C"}))
	got, err := cat.Markets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].BaseToken != "A" {
		t.Fatalf("filtered markets = %+v, want only A", got)
	}
}

func TestNewExclusionsSkipsEmpties(t *testing.T) {
	t.Parallel()

	ex := NewExclusions([]string{"", "x", ""})
	if len(ex) != 1 || !ex.Excluded("x") {
		t.Fatalf("exclusion set = %v", ex)
	}
	if ex.Excluded("") {
		t.Error("empty id must never be excluded")
	}
}

func TestLoadMarketsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "markets.yaml")
	doc := `markets:
  - base_token: TOK
    quote_token: USDC
    pool_id: pool-1
    pool_owner: owner-1
    base_symbol: TOK
    base_decimals: 9
    quote_decimals: 6
  - base_token: OTHER
    quote_token: USDC
    pool_id: pool-2
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	markets, err := LoadMarketsFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	if markets[0].PoolOwner != "owner-1" || markets[0].BaseDecimals != 9 {
		t.Fatalf("bad first market: %+v", markets[0])
	}

	if _, err := LoadMarketsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIndexes(t *testing.T) {
	t.Parallel()

	markets := []models.Market{
		{BaseToken: "A", PoolID: "pool-a", PoolOwner: "owner-a"},
		{BaseToken: "B", PoolID: "pool-b"},
	}

	pools := TokenPoolIndex(markets)
	if pools["A"] != "pool-a" || pools["B"] != "pool-b" {
		t.Fatalf("token pool index = %v", pools)
	}

	owners := OwnerTokenIndex(markets)
	if owners["owner-a"] != "A" {
		t.Errorf("explicit owner not indexed: %v", owners)
	}
	// Without an owner the pool id stands in.
	if owners["pool-b"] != "B" {
		t.Errorf("pool id fallback not indexed: %v", owners)
	}
}
