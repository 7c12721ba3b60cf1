package repository

import (
	"testing"
)

func TestPoolConfigPinsUTC(t *testing.T) {
	cfg, err := poolConfig("postgres://grid:pw@localhost:5432/swaps")
	if err != nil {
		t.Fatalf("poolConfig failed: %v", err)
	}
	// date_trunc on timestamptz follows the session zone; bucket alignment
	// requires UTC no matter where the server runs.
	if tz := cfg.ConnConfig.RuntimeParams["timezone"]; tz != "UTC" {
		t.Fatalf("session timezone = %q, want UTC", tz)
	}
	if cfg.MaxConns != 10 {
		t.Fatalf("default max conns = %d, want 10", cfg.MaxConns)
	}
}

func TestPoolConfigMaxConnsOverride(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "25")
	cfg, err := poolConfig("postgres://grid:pw@localhost:5432/swaps")
	if err != nil {
		t.Fatalf("poolConfig failed: %v", err)
	}
	if cfg.MaxConns != 25 {
		t.Fatalf("max conns = %d, want 25", cfg.MaxConns)
	}

	t.Setenv("DB_MAX_OPEN_CONNS", "lots")
	cfg, err = poolConfig("postgres://grid:pw@localhost:5432/swaps")
	if err != nil {
		t.Fatalf("poolConfig failed: %v", err)
	}
	if cfg.MaxConns != 10 {
		t.Fatalf("unparseable override changed max conns to %d, want default 10", cfg.MaxConns)
	}
}

func TestPoolConfigRejectsBadURL(t *testing.T) {
	if _, err := poolConfig("://not-a-url"); err == nil {
		t.Fatal("expected an error for a malformed connection url")
	}
}
