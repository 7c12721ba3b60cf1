package repository

import (
	"context"
	"time"

	"swapgrid/internal/models"
)

// UpsertDailyBuySell writes per-day buy/sell splits. Same upsert semantics
// as the grids: numeric overwrite, completeness never demoted.
func (r *Repository) UpsertDailyBuySell(ctx context.Context, rows []models.DailyBuySell) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, storageErr("begin buy/sell batch", err)
	}
	defer tx.Rollback(ctx)

	processed := 0
	for _, row := range rows {
		if row.Token == "" || row.Date.IsZero() {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_buy_sell (token, date, buy_volume, sell_volume, buy_count, sell_count, is_complete, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			ON CONFLICT (token, date) DO UPDATE SET
				buy_volume = EXCLUDED.buy_volume,
				sell_volume = EXCLUDED.sell_volume,
				buy_count = EXCLUDED.buy_count,
				sell_count = EXCLUDED.sell_count,
				is_complete = daily_buy_sell.is_complete OR EXCLUDED.is_complete,
				updated_at = NOW()`,
			row.Token, row.Date.UTC().Truncate(24*time.Hour), row.BuyVolume, row.SellVolume,
			row.BuyCount, row.SellCount, row.IsComplete,
		)
		if err != nil {
			return 0, storageErr("upsert buy/sell", err)
		}
		processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr("commit buy/sell batch", err)
	}
	return processed, nil
}

// UpsertDailyPoolVolumes writes per-day external-pool volume rows.
func (r *Repository) UpsertDailyPoolVolumes(ctx context.Context, rows []models.DailyPoolVolume) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, storageErr("begin pool volume batch", err)
	}
	defer tx.Rollback(ctx)

	processed := 0
	for _, row := range rows {
		if row.Token == "" || row.Date.IsZero() {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_pool_volumes (token, date, base_volume, target_volume, trade_count, is_complete, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			ON CONFLICT (token, date) DO UPDATE SET
				base_volume = EXCLUDED.base_volume,
				target_volume = EXCLUDED.target_volume,
				trade_count = EXCLUDED.trade_count,
				is_complete = daily_pool_volumes.is_complete OR EXCLUDED.is_complete,
				updated_at = NOW()`,
			row.Token, row.Date.UTC().Truncate(24*time.Hour), row.BaseVolume, row.TargetVolume,
			row.TradeCount, row.IsComplete,
		)
		if err != nil {
			return 0, storageErr("upsert pool volume", err)
		}
		processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr("commit pool volume batch", err)
	}
	return processed, nil
}

// LatestBuySellDate returns the newest sealed date in daily_buy_sell.
func (r *Repository) LatestBuySellDate(ctx context.Context) (time.Time, bool, error) {
	return r.latestDate(ctx, "daily_buy_sell")
}

// LatestPoolVolumeDate returns the newest sealed date in daily_pool_volumes.
func (r *Repository) LatestPoolVolumeDate(ctx context.Context) (time.Time, bool, error) {
	return r.latestDate(ctx, "daily_pool_volumes")
}

func (r *Repository) latestDate(ctx context.Context, table string) (time.Time, bool, error) {
	var latest *time.Time
	if err := r.db.QueryRow(ctx, `SELECT MAX(date) FROM `+table+` WHERE is_complete = TRUE`).Scan(&latest); err != nil {
		return time.Time{}, false, storageErr("latest date "+table, err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// BuySellRange returns buy/sell rows in [from, to] ordered by (token, date).
func (r *Repository) BuySellRange(ctx context.Context, from, to time.Time, tokens []string) ([]models.DailyBuySell, error) {
	query := `
		SELECT token, date, buy_volume, sell_volume, buy_count, sell_count, is_complete
		FROM daily_buy_sell
		WHERE date >= $1 AND date <= $2`
	args := []any{from.UTC(), to.UTC()}
	if len(tokens) > 0 {
		args = append(args, tokens)
		query += ` AND token = ANY($3)`
	}
	query += ` ORDER BY token, date ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("buy/sell range", err)
	}
	defer rows.Close()

	var out []models.DailyBuySell
	for rows.Next() {
		var row models.DailyBuySell
		if err := rows.Scan(&row.Token, &row.Date, &row.BuyVolume, &row.SellVolume, &row.BuyCount, &row.SellCount, &row.IsComplete); err != nil {
			return nil, storageErr("scan buy/sell row", err)
		}
		row.Date = row.Date.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// PoolVolumeRange returns external-pool rows in [from, to] ordered by (token, date).
func (r *Repository) PoolVolumeRange(ctx context.Context, from, to time.Time, tokens []string) ([]models.DailyPoolVolume, error) {
	query := `
		SELECT token, date, base_volume, target_volume, trade_count, is_complete
		FROM daily_pool_volumes
		WHERE date >= $1 AND date <= $2`
	args := []any{from.UTC(), to.UTC()}
	if len(tokens) > 0 {
		args = append(args, tokens)
		query += ` AND token = ANY($3)`
	}
	query += ` ORDER BY token, date ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("pool volume range", err)
	}
	defer rows.Close()

	var out []models.DailyPoolVolume
	for rows.Next() {
		var row models.DailyPoolVolume
		if err := rows.Scan(&row.Token, &row.Date, &row.BaseVolume, &row.TargetVolume, &row.TradeCount, &row.IsComplete); err != nil {
			return nil, storageErr("scan pool volume row", err)
		}
		row.Date = row.Date.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}
