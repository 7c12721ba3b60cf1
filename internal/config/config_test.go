package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIPort != "8080" {
		t.Errorf("api port = %q", cfg.APIPort)
	}
	if cfg.Retention10mHours != 25 || cfg.Retention1hHours != 48 {
		t.Errorf("retention defaults = %d/%d", cfg.Retention10mHours, cfg.Retention1hHours)
	}
	if cfg.FetchTimeout != 4*time.Minute {
		t.Errorf("fetch timeout = %s", cfg.FetchTimeout)
	}
	if cfg.AnalyticsEnabled() {
		t.Error("analytics must be disabled without an api key")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ANALYTICS_API_KEY", "k")
	t.Setenv("ANALYTICS_SWAP_QUERY_ID", "777")
	t.Setenv("FETCH_TIMEOUT", "90")
	t.Setenv("CACHE_TTL_TICKERS", "45s")
	t.Setenv("EXCLUDED_MARKETS", "a, b,,c")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIPort != "9999" {
		t.Errorf("api port = %q", cfg.APIPort)
	}
	if cfg.SwapQueryID != 777 {
		t.Errorf("swap query id = %d", cfg.SwapQueryID)
	}
	// Bare integers are seconds.
	if cfg.FetchTimeout != 90*time.Second {
		t.Errorf("fetch timeout = %s", cfg.FetchTimeout)
	}
	if cfg.CacheTTLTickers != 45*time.Second {
		t.Errorf("tickers ttl = %s", cfg.CacheTTLTickers)
	}
	if len(cfg.ExcludedMarkets) != 3 {
		t.Errorf("excluded markets = %v", cfg.ExcludedMarkets)
	}
	if !cfg.AnalyticsEnabled() {
		t.Error("analytics should be enabled with a key")
	}
}

func TestLoadYAMLFileWithEnvWinning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `api_port: "7000"
analytics_api_key: from-file
swap_query_id: 111
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SwapQueryID != 111 {
		t.Errorf("swap query id from file = %d", cfg.SwapQueryID)
	}
	if cfg.AnalyticsAPIKey != "from-file" {
		t.Errorf("api key = %q", cfg.AnalyticsAPIKey)
	}
	// Env overlays the file.
	if cfg.APIPort != "7001" {
		t.Errorf("api port = %q, env should win", cfg.APIPort)
	}
}

func TestDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "grid")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "swaps")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "postgres://grid:pw@db.internal:5432/swaps?sslmode=disable"
	if cfg.DatabaseURL != want {
		t.Errorf("database url = %q, want %q", cfg.DatabaseURL, want)
	}
}

func TestGenesisTime(t *testing.T) {
	cfg := &Config{GenesisDate: "2025-06-01"}
	if got := cfg.GenesisTime(); !got.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("genesis = %s", got)
	}
	bad := &Config{GenesisDate: "junk"}
	if got := bad.GenesisTime(); got.Year() != 2024 {
		t.Errorf("fallback genesis = %s", got)
	}
}
