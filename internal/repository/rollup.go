package repository

import (
	"context"
	"fmt"
	"time"

	"swapgrid/internal/models"
)

// rollupColumns is the shared SELECT body for both roll-up directions:
// sums for volumes/trades/fees, max high, min of positive lows, and a
// volume-weighted average price over rows that carry one.
const rollupColumns = `
	src.token,
	date_trunc('%s', src.bucket_start) AS target_start,
	SUM(src.base_volume),
	SUM(src.target_volume),
	COALESCE(MAX(src.high), 0),
	COALESCE(MIN(src.low) FILTER (WHERE src.low > 0), 0),
	SUM(src.trade_count),
	SUM(src.buy_volume),
	SUM(src.sell_volume),
	CASE WHEN COALESCE(SUM(src.base_volume) FILTER (WHERE src.average_price IS NOT NULL), 0) > 0
		THEN SUM(src.average_price * src.base_volume) FILTER (WHERE src.average_price IS NOT NULL)
			/ SUM(src.base_volume) FILTER (WHERE src.average_price IS NOT NULL)
		ELSE NULL
	END,
	SUM(src.usdc_fees),
	SUM(src.token_fees),
	SUM(src.sell_volume_usdc)`

// Aggregate10MinToHourly rolls the 10-minute grid up into the hourly grid.
// With a non-nil hour only that hour is re-aggregated; otherwise every hour
// that is not yet sealed in the hourly grid is rolled up in one scan.
// Writes are upserts, so re-running converges to the same rows.
func (r *Repository) Aggregate10MinToHourly(ctx context.Context, token string, hour *time.Time, markComplete bool) (int64, error) {
	return r.rollUp(ctx, models.GridTenMinute, models.GridHourly, "hour", token, hour, markComplete)
}

// AggregateHourlyToDaily rolls the hourly grid up into the daily grid.
func (r *Repository) AggregateHourlyToDaily(ctx context.Context, token string, date *time.Time, markComplete bool) (int64, error) {
	return r.rollUp(ctx, models.GridHourly, models.GridDaily, "day", token, date, markComplete)
}

func (r *Repository) rollUp(ctx context.Context, src, dst models.Grid, trunc string, token string, bucket *time.Time, markComplete bool) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (token, bucket_start, base_volume, target_volume, high, low, trade_count,
			buy_volume, sell_volume, average_price, usdc_fees, token_fees, sell_volume_usdc,
			is_complete, created_at, updated_at)
		SELECT `+rollupColumns+`,
			$1, NOW(), NOW()
		FROM %s src
		WHERE 1=1`, dst.Table(), trunc, src.Table())
	args := []any{markComplete}

	if bucket != nil {
		aligned := dst.Align(*bucket)
		args = append(args, aligned, aligned.Add(dst.Step()))
		query += fmt.Sprintf(` AND src.bucket_start >= $%d AND src.bucket_start < $%d`, len(args)-1, len(args))
	} else {
		// Only hours/days that are not already sealed at the target level.
		query += fmt.Sprintf(` AND NOT EXISTS (
			SELECT 1 FROM %s dst
			WHERE dst.token = src.token
			  AND dst.bucket_start = date_trunc('%s', src.bucket_start)
			  AND dst.is_complete = TRUE)`, dst.Table(), trunc)
	}
	if token != "" {
		args = append(args, token)
		query += fmt.Sprintf(` AND src.token = $%d`, len(args))
	}

	query += fmt.Sprintf(`
		GROUP BY src.token, target_start
		ON CONFLICT (token, bucket_start) DO UPDATE SET
			base_volume = EXCLUDED.base_volume,
			target_volume = EXCLUDED.target_volume,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			trade_count = EXCLUDED.trade_count,
			buy_volume = EXCLUDED.buy_volume,
			sell_volume = EXCLUDED.sell_volume,
			average_price = EXCLUDED.average_price,
			usdc_fees = EXCLUDED.usdc_fees,
			token_fees = EXCLUDED.token_fees,
			sell_volume_usdc = EXCLUDED.sell_volume_usdc,
			is_complete = %s.is_complete OR EXCLUDED.is_complete,
			updated_at = NOW()`, dst.Table())

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, storageErr(fmt.Sprintf("rollup %s to %s", src, dst), err)
	}
	return tag.RowsAffected(), nil
}

// RefreshDailyCumulatives recomputes the cumulative columns of the daily grid
// as a window sum over prior days in ascending date order.
func (r *Repository) RefreshDailyCumulatives(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		UPDATE swap_buckets_1d d SET
			cumulative_base_volume = w.cum_base,
			cumulative_usdc_fees = w.cum_fees
		FROM (
			SELECT id,
				SUM(base_volume) OVER (PARTITION BY token ORDER BY bucket_start) AS cum_base,
				SUM(COALESCE(usdc_fees, 0)) OVER (PARTITION BY token ORDER BY bucket_start) AS cum_fees
			FROM swap_buckets_1d
		) w
		WHERE d.id = w.id`)
	if err != nil {
		return storageErr("refresh daily cumulatives", err)
	}
	return nil
}

// DailyAggregates builds the per-token all-time summary from the daily grid:
// first/last trading date, lifetime totals, all-time high, all-time positive
// low, and the number of days with trades.
func (r *Repository) DailyAggregates(ctx context.Context, tokens []string, withRows bool) (map[string]models.TokenDailySummary, error) {
	query := `
		SELECT token,
			MIN(bucket_start),
			MAX(bucket_start),
			COALESCE(SUM(base_volume), 0),
			COALESCE(SUM(target_volume), 0),
			COALESCE(SUM(trade_count), 0),
			COALESCE(MAX(high), 0),
			COALESCE(MIN(low) FILTER (WHERE low > 0), 0),
			COUNT(*) FILTER (WHERE trade_count > 0)
		FROM swap_buckets_1d`
	var args []any
	if len(tokens) > 0 {
		args = append(args, tokens)
		query += ` WHERE token = ANY($1)`
	}
	query += ` GROUP BY token`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("daily aggregates", err)
	}
	defer rows.Close()

	out := make(map[string]models.TokenDailySummary)
	for rows.Next() {
		var s models.TokenDailySummary
		var days int64
		if err := rows.Scan(
			&s.Token, &s.FirstDate, &s.LastDate,
			&s.TotalBaseVolume, &s.TotalTargetVol, &s.TotalTrades,
			&s.AllTimeHigh, &s.AllTimeLow, &days,
		); err != nil {
			return nil, storageErr("scan daily aggregate", err)
		}
		s.TradingDays = int(days)
		s.FirstDate = s.FirstDate.UTC()
		s.LastDate = s.LastDate.UTC()
		out[s.Token] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withRows {
		for token, s := range out {
			daily, err := r.Range(ctx, models.GridDaily, s.FirstDate, nil, []string{token})
			if err != nil {
				return nil, err
			}
			s.DailyRows = daily
			out[token] = s
		}
	}
	return out, nil
}
