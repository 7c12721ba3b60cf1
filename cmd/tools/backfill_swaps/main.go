package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"swapgrid/internal/analytics"
	"swapgrid/internal/catalogue"
	"swapgrid/internal/config"
	"swapgrid/internal/refresher"
	"swapgrid/internal/repository"
)

// backfillCursorKey stores the first day the next pass should start from.
const backfillCursorKey = "backfill_swaps_cursor"

// Historical swap backfill. Walks the requested date range in seven-day
// chunks with a short inter-chunk delay so upstream rate limits stay happy.
// On quota exhaustion the pass stops and reports what it managed; rerunning
// resumes from the stored cursor, and ranges whose extended fields are
// already populated are skipped upstream-side.
func main() {
	var (
		fromStr   string
		toStr     string
		chunkDays int
		delay     time.Duration
		recent    bool
	)

	flag.StringVar(&fromStr, "from", "", "start date (YYYY-MM-DD, inclusive); default genesis")
	flag.StringVar(&toStr, "to", "", "end date (YYYY-MM-DD, inclusive); default today")
	flag.IntVar(&chunkDays, "chunk-days", 7, "days per upstream query")
	flag.DurationVar(&delay, "delay", 3*time.Second, "pause between chunks")
	flag.BoolVar(&recent, "recent", false, "backfill only the last RECENT_DAYS days")
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

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect repository: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	from := cfg.GenesisTime()
	switch {
	case fromStr != "":
		from = mustDate(fromStr, "from")
	case recent:
		from = time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -cfg.RecentDays)
	default:
		if cursor, err := repo.GetMetadata(ctx, backfillCursorKey); err == nil && cursor != "" {
			if t, err := time.ParseInLocation("2006-01-02", cursor, time.UTC); err == nil && t.After(from) {
				log.Printf("[backfill_swaps] resuming from stored cursor %s", cursor)
				from = t
			}
		}
	}
	to := time.Now().UTC().Truncate(24 * time.Hour)
	if toStr != "" {
		to = mustDate(toStr, "to")
	}
	if to.Before(from) {
		log.Fatalf("invalid range: from=%s to=%s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	client := analytics.NewClient(cfg.AnalyticsBaseURL, cfg.AnalyticsAPIKey,
		analytics.WithMaxWait(cfg.FetchTimeout))
	tenMinute := refresher.NewTenMinuteRefresher(repo, client, cfg.SwapQueryID, cfg.BackfillQueryID,
		catalogue.NewExclusions(cfg.ExcludedMarkets), refresher.NewStatusRegistry(), nil)

	started := time.Now()
	chunks, updated := 0, 0

	for chunkStart := from; !chunkStart.After(to); chunkStart = chunkStart.AddDate(0, 0, chunkDays) {
		chunkEnd := chunkStart.AddDate(0, 0, chunkDays).Add(-time.Second)
		if chunkEnd.After(to.Add(24*time.Hour - time.Second)) {
			chunkEnd = to.Add(24*time.Hour - time.Second)
		}

		log.Printf("[backfill_swaps] chunk %s .. %s", chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"))
		n, err := tenMinute.BackfillRange(ctx, chunkStart, chunkEnd)
		if err != nil {
			if errors.Is(err, analytics.ErrQuotaExceeded) {
				log.Printf("[backfill_swaps] upstream quota exhausted: processed=%d chunks, updated=%d rows", chunks, updated)
				log.Printf("[backfill_swaps] options: wait for the quota window to reset, upgrade the upstream plan,")
				log.Printf("[backfill_swaps]          run the service in DB-only mode (SKIP_ANALYTICS=true),")
				log.Printf("[backfill_swaps]          or rerun this tool later; it resumes from the first unpopulated day")
				os.Exit(1)
			}
			log.Fatalf("[backfill_swaps] chunk failed: %v", err)
		}
		updated += n
		chunks++

		next := chunkStart.AddDate(0, 0, chunkDays)
		if err := repo.SetMetadata(ctx, backfillCursorKey, next.Format("2006-01-02")); err != nil {
			log.Printf("[backfill_swaps] cursor save failed: %v", err)
		}
		if !next.After(to) {
			time.Sleep(delay)
		}
	}

	log.Printf("[backfill_swaps] done: processed=%d chunks, updated=%d rows in %s",
		chunks, updated, time.Since(started).Truncate(time.Second))
}

func mustDate(s, flagName string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		log.Fatalf("invalid -%s date %q: %v", flagName, s, err)
	}
	return t
}
