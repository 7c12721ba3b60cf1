package refresher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"swapgrid/internal/analytics"
	"swapgrid/internal/eventbus"
	"swapgrid/internal/metrics"
	"swapgrid/internal/models"
	"swapgrid/internal/repository"
)

// SupplementaryFetcher pulls the two daily side feeds: per-token buy/sell
// splits and external-pool volumes. Both are keyed by (token, date) and are
// independent of the main grid pipeline. Today's row is always re-fetched
// and stays incomplete until the next day boundary.
type SupplementaryFetcher struct {
	store          *repository.Repository
	runner         Runner
	buySellQueryID int
	poolQueryID    int

	// ownerToToken resolves external-pool rows, which upstream keys by pool
	// owner address, onto base tokens. Unknown owners are dropped.
	ownerToToken map[string]string

	genesis  time.Time
	statuses *StatusRegistry
	bus      *eventbus.Bus
}

func NewSupplementaryFetcher(store *repository.Repository, runner Runner, buySellQueryID, poolQueryID int, ownerToToken map[string]string, genesis time.Time, statuses *StatusRegistry, bus *eventbus.Bus) *SupplementaryFetcher {
	statuses.Register(ServiceSupplementary)
	return &SupplementaryFetcher{
		store:          store,
		runner:         runner,
		buySellQueryID: buySellQueryID,
		poolQueryID:    poolQueryID,
		ownerToToken:   ownerToToken,
		genesis:        genesis.UTC().Truncate(24 * time.Hour),
		statuses:       statuses,
		bus:            bus,
	}
}

// Initialize runs one full fetch. On an empty table this becomes the
// backfill-from-genesis pass.
func (s *SupplementaryFetcher) Initialize(ctx context.Context) error {
	err := s.Refresh(ctx)
	s.statuses.Update(ServiceSupplementary, func(st *models.ServiceStatus) {
		st.Initialized = err == nil
		if err != nil {
			st.LastError = err.Error()
		}
	})
	return err
}

// Refresh fetches the incremental day range for both feeds. Each feed
// resumes from the day after its newest sealed row; with no sealed rows the
// range starts at genesis.
func (s *SupplementaryFetcher) Refresh(ctx context.Context) error {
	if s.store == nil || s.runner == nil {
		log.Printf("[supplementary_fetcher] store or analytics disabled, skipping")
		return nil
	}
	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)

	s.statuses.Update(ServiceSupplementary, func(st *models.ServiceStatus) { st.Refreshing = true })
	defer s.statuses.Update(ServiceSupplementary, func(st *models.ServiceStatus) { st.Refreshing = false })

	var total int
	var firstErr error

	if s.buySellQueryID != 0 {
		n, err := s.refreshBuySell(ctx, today)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.poolQueryID != 0 {
		n, err := s.refreshPoolVolumes(ctx, today)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.statuses.Update(ServiceSupplementary, func(st *models.ServiceStatus) {
		st.LastRefreshTime = now
		st.RecordCount = int64(total)
		if firstErr != nil {
			st.LastError = firstErr.Error()
		} else {
			st.LastError = ""
		}
	})
	if firstErr != nil {
		metrics.RefreshErrors.WithLabelValues(ServiceSupplementary).Inc()
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshFailed, Service: ServiceSupplementary, Timestamp: now, Err: firstErr.Error()})
		}
		return firstErr
	}

	metrics.RefreshRuns.WithLabelValues(ServiceSupplementary).Inc()
	metrics.LastRefreshUnix.WithLabelValues(ServiceSupplementary).Set(float64(now.Unix()))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshComplete, Service: ServiceSupplementary, Timestamp: now, Rows: total})
	}
	return nil
}

func (s *SupplementaryFetcher) refreshBuySell(ctx context.Context, today time.Time) (int, error) {
	from := s.genesis
	if latest, ok, err := s.store.LatestBuySellDate(ctx); err != nil {
		return 0, err
	} else if ok {
		from = latest.AddDate(0, 0, 1)
	}
	if from.After(today) {
		from = today
	}

	res, err := s.runner.Run(ctx, s.buySellQueryID, dayRangeParams(from, today))
	if err != nil {
		metrics.UpstreamQueries.WithLabelValues(outcomeLabel(err)).Inc()
		return 0, fmt.Errorf("buy/sell fetch: %w", err)
	}
	metrics.UpstreamQueries.WithLabelValues("ok").Inc()

	rows := parseBuySellRows(res.Rows, today)
	return s.store.UpsertDailyBuySell(ctx, rows)
}

func (s *SupplementaryFetcher) refreshPoolVolumes(ctx context.Context, today time.Time) (int, error) {
	from := s.genesis
	if latest, ok, err := s.store.LatestPoolVolumeDate(ctx); err != nil {
		return 0, err
	} else if ok {
		from = latest.AddDate(0, 0, 1)
	}
	if from.After(today) {
		from = today
	}

	res, err := s.runner.Run(ctx, s.poolQueryID, dayRangeParams(from, today))
	if err != nil {
		metrics.UpstreamQueries.WithLabelValues(outcomeLabel(err)).Inc()
		return 0, fmt.Errorf("pool volume fetch: %w", err)
	}
	metrics.UpstreamQueries.WithLabelValues("ok").Inc()

	rows := parsePoolRows(res.Rows, s.ownerToToken, today)
	return s.store.UpsertDailyPoolVolumes(ctx, rows)
}

func parseBuySellRows(rows []analytics.Row, today time.Time) []models.DailyBuySell {
	out := make([]models.DailyBuySell, 0, len(rows))
	var badSample error
	dropped := 0

	for _, row := range rows {
		token := row.Get("token")
		if token == "" {
			token = row.Get("base_token")
		}
		date, err := row.Time(dateColumn(row))
		if token == "" || err != nil {
			dropped++
			if badSample == nil && err != nil {
				badSample = err
			}
			continue
		}
		date = date.Truncate(24 * time.Hour)
		out = append(out, models.DailyBuySell{
			Token:      token,
			Date:       date,
			BuyVolume:  rowDecimal(row, "buy_volume"),
			SellVolume: rowDecimal(row, "sell_volume"),
			BuyCount:   rowDecimal(row, "buy_count").IntPart(),
			SellCount:  rowDecimal(row, "sell_count").IntPart(),
			IsComplete: date.Before(today),
		})
	}
	if dropped > 0 {
		log.Printf("[supplementary_fetcher] dropped %d buy/sell rows (sample: %v)", dropped, badSample)
	}
	return out
}

func parsePoolRows(rows []analytics.Row, ownerToToken map[string]string, today time.Time) []models.DailyPoolVolume {
	out := make([]models.DailyPoolVolume, 0, len(rows))
	unknown := 0

	for _, row := range rows {
		owner := row.Get("owner")
		if owner == "" {
			owner = row.Get("pool_owner")
		}
		token, ok := ownerToToken[owner]
		if !ok {
			unknown++
			continue
		}
		date, err := row.Time(dateColumn(row))
		if err != nil {
			log.Printf("[supplementary_fetcher] bad pool row date for %s: %v", token, err)
			continue
		}
		date = date.Truncate(24 * time.Hour)
		out = append(out, models.DailyPoolVolume{
			Token:        token,
			Date:         date,
			BaseVolume:   rowDecimal(row, "base_volume"),
			TargetVolume: rowDecimal(row, "target_volume"),
			TradeCount:   rowDecimal(row, "trade_count").IntPart(),
			IsComplete:   date.Before(today),
		})
	}
	if unknown > 0 {
		log.Printf("[supplementary_fetcher] dropped %d pool rows with unknown owners", unknown)
	}
	return out
}

func dateColumn(row analytics.Row) string {
	if row.Get("date") != "" {
		return "date"
	}
	return "day"
}

func rowDecimal(row analytics.Row, col string) decimal.Decimal {
	d, err := decimal.NewFromString(analytics.NormalizeDecimal(row.Get(col)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func dayRangeParams(from, to time.Time) map[string]any {
	return map[string]any{
		"start_date": from.UTC().Format("2006-01-02"),
		"end_date":   to.UTC().Format("2006-01-02"),
	}
}
