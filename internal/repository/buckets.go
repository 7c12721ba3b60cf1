package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"swapgrid/internal/models"
)

// upsertBatchSize is the number of rows written per transaction. Batches
// are independent: a failed batch rolls back alone and never commits partially.
const upsertBatchSize = 500

// UpsertBuckets writes rows into the given grid keyed by (token, bucket_start).
// On conflict the numeric fields are overwritten, updated_at is refreshed, and
// is_complete is OR-ed with markComplete so a sealed bucket is never demoted.
// Rows that fail validation (missing key fields, negative volumes) are skipped.
// Returns the number of rows processed.
func (r *Repository) UpsertBuckets(ctx context.Context, grid models.Grid, rows []models.BucketRecord, markComplete bool) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	valid := make([]models.BucketRecord, 0, len(rows))
	for _, row := range rows {
		if !row.Valid() {
			continue
		}
		valid = append(valid, row)
	}

	processed := 0
	for start := 0; start < len(valid); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := r.upsertBucketBatch(ctx, grid, valid[start:end], markComplete); err != nil {
			return processed, err
		}
		processed += end - start
	}
	return processed, nil
}

func (r *Repository) upsertBucketBatch(ctx context.Context, grid models.Grid, batch []models.BucketRecord, markComplete bool) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storageErr("begin upsert batch", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (token, bucket_start, base_volume, target_volume, high, low, trade_count,
			buy_volume, sell_volume, average_price, usdc_fees, token_fees, sell_volume_usdc,
			is_complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
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
			updated_at = NOW()`, grid.Table(), grid.Table())

	for _, row := range batch {
		_, err := tx.Exec(ctx, query,
			row.Token, grid.Align(row.BucketStart),
			row.BaseVolume, row.TargetVolume, row.High, row.Low, row.TradeCount,
			row.BuyVolume, row.SellVolume, row.AveragePrice,
			row.USDCFees, row.TokenFees, row.SellVolumeUSDC,
			markComplete || row.IsComplete,
		)
		if err != nil {
			return storageErr(fmt.Sprintf("upsert %s %s/%s", grid, row.Token, row.BucketStart.Format(time.RFC3339)), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit upsert batch", err)
	}
	return nil
}

// MarkComplete seals every bucket strictly older than before. Monotonic:
// it only ever flips incomplete rows to complete.
func (r *Repository) MarkComplete(ctx context.Context, grid models.Grid, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET is_complete = TRUE, updated_at = NOW()
		WHERE bucket_start < $1 AND is_complete = FALSE`, grid.Table()),
		before.UTC(),
	)
	if err != nil {
		return 0, storageErr("mark complete", err)
	}
	return tag.RowsAffected(), nil
}

// PruneBefore deletes rows older than cutoff. Driven by the retention policy;
// never called for the daily grid.
func (r *Repository) PruneBefore(ctx context.Context, grid models.Grid, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE bucket_start < $1`, grid.Table()), cutoff.UTC())
	if err != nil {
		return 0, storageErr("prune", err)
	}
	return tag.RowsAffected(), nil
}

// LatestBucket returns the newest bucket_start in the grid, if any.
func (r *Repository) LatestBucket(ctx context.Context, grid models.Grid) (time.Time, bool, error) {
	return r.latestBucket(ctx, grid, false)
}

// LatestCompleteBucket returns the newest sealed bucket_start in the grid, if any.
func (r *Repository) LatestCompleteBucket(ctx context.Context, grid models.Grid) (time.Time, bool, error) {
	return r.latestBucket(ctx, grid, true)
}

func (r *Repository) latestBucket(ctx context.Context, grid models.Grid, completeOnly bool) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT MAX(bucket_start) FROM %s`, grid.Table())
	if completeOnly {
		query += ` WHERE is_complete = TRUE`
	}

	var latest *time.Time
	if err := r.db.QueryRow(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, storageErr("latest bucket", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// Rolling24h reduces every bucket with bucket_start >= now-24h into a
// per-token aggregate. Zero lows mean "no observation" and are excluded
// from the MIN.
func (r *Repository) Rolling24h(ctx context.Context, grid models.Grid, tokens []string, now time.Time) (map[string]models.RollingAggregate, error) {
	since := now.UTC().Add(-24 * time.Hour)

	query := fmt.Sprintf(`
		SELECT token,
			COALESCE(SUM(base_volume), 0),
			COALESCE(SUM(target_volume), 0),
			COALESCE(MAX(high), 0),
			COALESCE(MIN(low) FILTER (WHERE low > 0), 0),
			COALESCE(SUM(trade_count), 0)
		FROM %s
		WHERE bucket_start >= $1 AND bucket_start <= $2`, grid.Table())
	args := []any{since, now.UTC()}
	if len(tokens) > 0 {
		query += ` AND token = ANY($3)`
		args = append(args, tokens)
	}
	query += ` GROUP BY token`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("rolling 24h", err)
	}
	defer rows.Close()

	out := make(map[string]models.RollingAggregate)
	for rows.Next() {
		var agg models.RollingAggregate
		if err := rows.Scan(&agg.Token, &agg.BaseVolume, &agg.TargetVolume, &agg.High, &agg.Low, &agg.TradeCount); err != nil {
			return nil, storageErr("scan rolling 24h", err)
		}
		out[agg.Token] = agg
	}
	return out, rows.Err()
}

// Range returns rows in [from, to] ordered by (token, bucket_start ASC).
// A nil to means "no upper bound"; empty tokens means all tokens.
func (r *Repository) Range(ctx context.Context, grid models.Grid, from time.Time, to *time.Time, tokens []string) ([]models.BucketRecord, error) {
	query := fmt.Sprintf(`
		SELECT token, bucket_start, base_volume, target_volume, high, low, trade_count,
			buy_volume, sell_volume, average_price, usdc_fees, token_fees, sell_volume_usdc,
			is_complete, updated_at
		FROM %s
		WHERE bucket_start >= $1`, grid.Table())
	args := []any{from.UTC()}
	if to != nil {
		args = append(args, to.UTC())
		query += fmt.Sprintf(` AND bucket_start <= $%d`, len(args))
	}
	if len(tokens) > 0 {
		args = append(args, tokens)
		query += fmt.Sprintf(` AND token = ANY($%d)`, len(args))
	}
	query += ` ORDER BY token, bucket_start ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("range", err)
	}
	defer rows.Close()

	return scanBucketRows(rows)
}

func scanBucketRows(rows pgx.Rows) ([]models.BucketRecord, error) {
	var out []models.BucketRecord
	for rows.Next() {
		var rec models.BucketRecord
		if err := rows.Scan(
			&rec.Token, &rec.BucketStart,
			&rec.BaseVolume, &rec.TargetVolume, &rec.High, &rec.Low, &rec.TradeCount,
			&rec.BuyVolume, &rec.SellVolume, &rec.AveragePrice,
			&rec.USDCFees, &rec.TokenFees, &rec.SellVolumeUSDC,
			&rec.IsComplete, &rec.UpdatedAt,
		); err != nil {
			return nil, storageErr("scan bucket row", err)
		}
		rec.BucketStart = rec.BucketStart.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRows returns the total row count of a grid. Observability only.
func (r *Repository) CountRows(ctx context.Context, grid models.Grid) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, grid.Table())).Scan(&count); err != nil {
		return 0, storageErr("count rows", err)
	}
	return count, nil
}

// MissingExtendedCount reports how many 10-minute rows inside [from, to]
// predate the extended upstream query (buy_volume IS NULL). Backfill drivers
// skip ranges where this is zero.
func (r *Repository) MissingExtendedCount(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM swap_buckets_10m
		WHERE bucket_start >= $1 AND bucket_start <= $2 AND buy_volume IS NULL`,
		from.UTC(), to.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, storageErr("missing extended count", err)
	}
	return count, nil
}
