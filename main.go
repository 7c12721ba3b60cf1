package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"swapgrid/internal/analytics"
	"swapgrid/internal/api"
	"swapgrid/internal/catalogue"
	"swapgrid/internal/config"
	"swapgrid/internal/eventbus"
	"swapgrid/internal/models"
	"swapgrid/internal/refresher"
	"swapgrid/internal/repository"
	"swapgrid/internal/scheduler"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing swapgrid backend...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("API Port: %s", cfg.APIPort)
	log.Printf("Analytics enabled: %v", cfg.AnalyticsEnabled())

	// Durable store. A failed connection is not fatal: every component
	// degrades to the in-memory ring and health reports it.
	var repo *repository.Repository
	if cfg.DatabaseURL != "" {
		repo, err = repository.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Store unavailable, running in degraded memory-only mode: %v", err)
			repo = nil
		}
	} else {
		log.Println("No database configured, running in degraded memory-only mode")
	}
	if repo != nil {
		defer repo.Close()
		if os.Getenv("SKIP_MIGRATION") == "true" {
			log.Println("Database migration SKIPPED (SKIP_MIGRATION=true)")
		} else {
			log.Println("Running database migration...")
			if err := repo.Migrate("schema.sql"); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			log.Println("Database migration complete.")
		}
	}

	// Market catalogue: static YAML list filtered by the exclusion set.
	exclusions := catalogue.NewExclusions(cfg.ExcludedMarkets)
	rawMarkets, err := catalogue.LoadMarketsFile(cfg.MarketsFile)
	if err != nil {
		log.Printf("Markets file unavailable (%v), starting with empty catalogue", err)
	}
	cat := catalogue.NewStatic(rawMarkets, exclusions)
	markets, err := cat.Markets(context.Background())
	if err != nil {
		log.Fatalf("Failed to resolve market catalogue: %v", err)
	}
	log.Printf("Tracking %d markets (%d excluded entries configured)", len(markets), len(cfg.ExcludedMarkets))

	// Upstream analytics client, disabled in dev mode or without a key.
	var runner refresher.Runner
	if cfg.AnalyticsEnabled() {
		runner = analytics.NewClient(cfg.AnalyticsBaseURL, cfg.AnalyticsAPIKey,
			analytics.WithCacheTTL(cfg.CacheTTLAnalytic),
			analytics.WithMaxWait(cfg.FetchTimeout),
		)
	} else {
		log.Println("Analytics disabled; refreshers will only serve stored data")
	}

	bus := eventbus.New()
	defer bus.Close()
	statuses := refresher.NewStatusRegistry()

	feeRate, err := decimal.NewFromString(cfg.ProtocolFeeRate)
	if err != nil {
		log.Printf("Invalid PROTOCOL_FEE_RATE %q, fee fallback disabled: %v", cfg.ProtocolFeeRate, err)
		feeRate = decimal.Zero
	}

	tenMinute := refresher.NewTenMinuteRefresher(repo, runner, cfg.SwapQueryID, cfg.BackfillQueryID, exclusions, statuses, bus,
		refresher.WithFeeRate(feeRate))
	hourly := refresher.NewHourlyAggregator(repo, statuses, bus)
	daily := refresher.NewDailyAggregator(repo, statuses, bus)
	supp := refresher.NewSupplementaryFetcher(repo, runner, cfg.BuySellQueryID, cfg.PoolQueryID,
		catalogue.OwnerTokenIndex(markets), cfg.GenesisTime(), statuses, bus)

	// Bootstrap sequentially, bottom grid first. Each initializer tolerates
	// partial failure and logs it; the process keeps serving what it has.
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Minute)
	if err := tenMinute.Initialize(initCtx); err != nil {
		log.Printf("Ten-minute bootstrap incomplete: %v", err)
	}
	if err := hourly.Initialize(initCtx); err != nil {
		log.Printf("Hourly bootstrap incomplete: %v", err)
	}
	if err := daily.Initialize(initCtx); err != nil {
		log.Printf("Daily bootstrap incomplete: %v", err)
	}
	if err := supp.Initialize(initCtx); err != nil {
		log.Printf("Supplementary bootstrap incomplete: %v", err)
	}
	cancelInit()

	// Scheduled cadences. All single-flight; a slow run drops its trigger.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buffer := time.Duration(cfg.RefreshBufferSec) * time.Second
	sched := scheduler.New(nil)
	sched.AtBoundary(ctx, refresher.ServiceTenMinute, 10*time.Minute, buffer, tenMinute.Refresh)
	sched.AtBoundary(ctx, refresher.ServiceHourly+"_open", 10*time.Minute, buffer+2*time.Second, hourly.RefreshOpenHour)
	sched.AtBoundary(ctx, refresher.ServiceHourly+"_seal", time.Hour, time.Minute, hourly.SealClosedHour)
	sched.DailyAtUTC(ctx, refresher.ServiceDaily, 0, 5, daily.Refresh)
	sched.DailyAtUTC(ctx, refresher.ServiceSupplementary, 0, 30, supp.Refresh)

	sched.EveryInterval(ctx, "health_snapshots", time.Hour, func(ctx context.Context) error {
		statuses.RecordSnapshots(time.Now())
		return nil
	})

	if repo != nil {
		sched.EveryInterval(ctx, "retention_prune", time.Hour, func(ctx context.Context) error {
			return pruneGrids(ctx, repo, cfg)
		})
	}

	// HTTP surface.
	readAPI := refresher.NewReadAPI(repo, tenMinute.Ring())
	serverOpts := []api.Option{api.WithTickersTTL(cfg.CacheTTLTickers)}
	if cfg.AdminJWTSecret != "" {
		serverOpts = append(serverOpts, api.WithJWTSecret(cfg.AdminJWTSecret))
	}
	apiServer := api.NewServer(repo, readAPI, statuses, supp, bus, markets,
		catalogue.TokenPoolIndex(markets), cfg.APIPort, serverOpts...)

	go func() {
		log.Printf("API listening on :%s", cfg.APIPort)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	// Block until shutdown signal, then stop scheduling and drain.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	sched.StopAll()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}
	log.Println("Shutdown complete.")
}

func pruneGrids(ctx context.Context, repo *repository.Repository, cfg *config.Config) error {
	now := time.Now().UTC()

	n, err := repo.PruneBefore(ctx, models.GridTenMinute, now.Add(-time.Duration(cfg.Retention10mHours)*time.Hour))
	if err != nil {
		return err
	}
	m, err := repo.PruneBefore(ctx, models.GridHourly, now.Add(-time.Duration(cfg.Retention1hHours)*time.Hour))
	if err != nil {
		return err
	}
	if n+m > 0 {
		log.Printf("[retention] pruned %d ten-minute rows, %d hourly rows", n, m)
	}
	return nil
}

// redactDatabaseURL hides the password when logging the connection string.
func redactDatabaseURL(dbURL string) string {
	if dbURL == "" {
		return "(none)"
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
