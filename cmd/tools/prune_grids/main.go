package main

import (
	"context"
	"flag"
	"log"
	"time"

	"swapgrid/internal/config"
	"swapgrid/internal/models"
	"swapgrid/internal/repository"
)

// Retention pruning for the fine grids. The daily grid is never pruned.
func main() {
	var (
		hours10m int
		hours1h  int
		dryRun   bool
	)

	flag.IntVar(&hours10m, "hours-10m", 0, "retention for the 10-minute grid in hours (default from config)")
	flag.IntVar(&hours1h, "hours-1h", 0, "retention for the hourly grid in hours (default from config)")
	flag.BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if hours10m <= 0 {
		hours10m = cfg.Retention10mHours
	}
	if hours1h <= 0 {
		hours1h = cfg.Retention1hHours
	}

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect repository: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	targets := []struct {
		grid   models.Grid
		cutoff time.Time
	}{
		{models.GridTenMinute, now.Add(-time.Duration(hours10m) * time.Hour)},
		{models.GridHourly, now.Add(-time.Duration(hours1h) * time.Hour)},
	}

	for _, t := range targets {
		if dryRun {
			count, err := repo.CountRows(ctx, t.grid)
			if err != nil {
				log.Fatalf("[prune_grids] count %s failed: %v", t.grid, err)
			}
			log.Printf("[prune_grids] %s: %d total rows, would prune before %s", t.grid, count, t.cutoff.Format(time.RFC3339))
			continue
		}
		n, err := repo.PruneBefore(ctx, t.grid, t.cutoff)
		if err != nil {
			log.Fatalf("[prune_grids] prune %s failed: %v", t.grid, err)
		}
		log.Printf("[prune_grids] %s: pruned %d rows before %s", t.grid, n, t.cutoff.Format(time.RFC3339))
	}
}
