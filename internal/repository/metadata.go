package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// GetMetadata returns the value stored under key, or "" when absent.
func (r *Repository) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM sync_metadata WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr("get metadata", err)
	}
	return value, nil
}

// SetMetadata stores an opaque cursor value under key.
func (r *Repository) SetMetadata(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return storageErr("set metadata", err)
	}
	return nil
}
