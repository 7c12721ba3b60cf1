package main

import (
	"context"
	"flag"
	"log"
	"time"

	"swapgrid/internal/analytics"
	"swapgrid/internal/catalogue"
	"swapgrid/internal/config"
	"swapgrid/internal/refresher"
	"swapgrid/internal/repository"
)

// One-shot driver for the supplementary daily feeds (buy/sell splits and
// external-pool volumes). With empty tables this becomes the backfill from
// the genesis date; otherwise only incremental days are fetched.
func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "overall run deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.AnalyticsEnabled() {
		log.Fatal("analytics is disabled (missing ANALYTICS_API_KEY, or DEV_MODE/SKIP_ANALYTICS set)")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.BuySellQueryID == 0 && cfg.PoolQueryID == 0 {
		log.Fatal("no supplementary query ids configured (ANALYTICS_BUY_SELL_QUERY_ID / ANALYTICS_POOL_QUERY_ID)")
	}

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect repository: %v", err)
	}
	defer repo.Close()

	markets, err := catalogue.LoadMarketsFile(cfg.MarketsFile)
	if err != nil {
		log.Fatalf("failed to load markets file: %v", err)
	}

	client := analytics.NewClient(cfg.AnalyticsBaseURL, cfg.AnalyticsAPIKey,
		analytics.WithMaxWait(cfg.FetchTimeout))
	fetcher := refresher.NewSupplementaryFetcher(repo, client, cfg.BuySellQueryID, cfg.PoolQueryID,
		catalogue.OwnerTokenIndex(markets), cfg.GenesisTime(), refresher.NewStatusRegistry(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	if err := fetcher.Refresh(ctx); err != nil {
		log.Fatalf("[backfill_supplementary] failed: %v", err)
	}
	log.Printf("[backfill_supplementary] done in %s", time.Since(started).Truncate(time.Second))
}
