package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values come from an optional
// YAML file (CONFIG_FILE) overlaid by environment variables; env wins.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	APIPort     string `yaml:"api_port"`

	AnalyticsBaseURL string `yaml:"analytics_base_url"`
	AnalyticsAPIKey  string `yaml:"analytics_api_key"`

	// Upstream query ids. A zero id disables the corresponding fetcher.
	SwapQueryID     int `yaml:"swap_query_id"`
	BackfillQueryID int `yaml:"backfill_query_id"`
	BuySellQueryID  int `yaml:"buy_sell_query_id"`
	PoolQueryID     int `yaml:"pool_query_id"`

	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	CacheTTLAnalytic time.Duration `yaml:"cache_ttl_analytics"`
	CacheTTLTickers  time.Duration `yaml:"cache_ttl_tickers"`

	RefreshBufferSec int `yaml:"refresh_buffer_sec"`

	Retention10mHours int `yaml:"retention_10m_hours"`
	Retention1hHours  int `yaml:"retention_1h_hours"`

	ExcludedMarkets []string `yaml:"excluded_markets"`
	ProtocolFeeRate string   `yaml:"protocol_fee_rate"`

	MarketsFile string `yaml:"markets_file"`
	GenesisDate string `yaml:"genesis_date"`

	RecentDays    int  `yaml:"recent_days"`
	SkipAnalytics bool `yaml:"skip_analytics"`
	DevMode       bool `yaml:"dev_mode"`

	AdminJWTSecret string `yaml:"admin_jwt_secret"`
}

// Load builds the configuration from CONFIG_FILE (if set) and the environment.
func Load() (*Config, error) {
	cfg := &Config{
		APIPort:           "8080",
		AnalyticsBaseURL:  "https://api.dune.com",
		FetchTimeout:      4 * time.Minute,
		CacheTTLAnalytic:  5 * time.Minute,
		CacheTTLTickers:   30 * time.Second,
		RefreshBufferSec:  5,
		Retention10mHours: 25,
		Retention1hHours:  48,
		ProtocolFeeRate:   "0.0025",
		MarketsFile:       "markets.yaml",
		GenesisDate:       "2024-01-01",
		RecentDays:        7,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		// Assemble from discrete parts when no URL is given.
		host := envStr("DB_HOST", "")
		if host != "" {
			port := envStr("DB_PORT", "5432")
			user := envStr("DB_USER", "postgres")
			pass := envStr("DB_PASSWORD", "")
			name := envStr("DB_NAME", "swapgrid")
			ssl := envStr("DB_SSL_MODE", "disable")
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
		}
	}

	cfg.APIPort = envStr("PORT", cfg.APIPort)
	cfg.AnalyticsBaseURL = envStr("ANALYTICS_BASE_URL", cfg.AnalyticsBaseURL)
	cfg.AnalyticsAPIKey = envStr("ANALYTICS_API_KEY", cfg.AnalyticsAPIKey)
	cfg.SwapQueryID = envInt("ANALYTICS_SWAP_QUERY_ID", cfg.SwapQueryID)
	cfg.BackfillQueryID = envInt("ANALYTICS_BACKFILL_QUERY_ID", cfg.BackfillQueryID)
	cfg.BuySellQueryID = envInt("ANALYTICS_BUY_SELL_QUERY_ID", cfg.BuySellQueryID)
	cfg.PoolQueryID = envInt("ANALYTICS_POOL_QUERY_ID", cfg.PoolQueryID)

	cfg.FetchTimeout = envDuration("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.CacheTTLAnalytic = envDuration("CACHE_TTL_ANALYTICS", cfg.CacheTTLAnalytic)
	cfg.CacheTTLTickers = envDuration("CACHE_TTL_TICKERS", cfg.CacheTTLTickers)
	cfg.RefreshBufferSec = envInt("REFRESH_INTERVAL_BUFFER_SEC", cfg.RefreshBufferSec)
	cfg.Retention10mHours = envInt("RETENTION_10M_HOURS", cfg.Retention10mHours)
	cfg.Retention1hHours = envInt("RETENTION_1H_HOURS", cfg.Retention1hHours)
	cfg.ProtocolFeeRate = envStr("PROTOCOL_FEE_RATE", cfg.ProtocolFeeRate)
	cfg.MarketsFile = envStr("MARKETS_FILE", cfg.MarketsFile)
	cfg.GenesisDate = envStr("GENESIS_DATE", cfg.GenesisDate)
	cfg.RecentDays = envInt("RECENT_DAYS", cfg.RecentDays)
	cfg.SkipAnalytics = envBool("SKIP_ANALYTICS", cfg.SkipAnalytics)
	cfg.DevMode = envBool("DEV_MODE", cfg.DevMode)
	cfg.AdminJWTSecret = envStr("ADMIN_JWT_SECRET", cfg.AdminJWTSecret)

	if raw := os.Getenv("EXCLUDED_MARKETS"); raw != "" {
		cfg.ExcludedMarkets = splitList(raw)
	}

	return cfg, nil
}

// AnalyticsEnabled reports whether upstream fetches should run at all.
func (c *Config) AnalyticsEnabled() bool {
	return !c.DevMode && !c.SkipAnalytics && c.AnalyticsAPIKey != ""
}

// GenesisTime parses the configured genesis date. Falls back to 2024-01-01
// on a malformed value.
func (c *Config) GenesisTime() time.Time {
	t, err := time.ParseInLocation("2006-01-02", c.GenesisDate, time.UTC)
	if err != nil {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
