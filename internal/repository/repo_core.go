package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable wraps any failure to reach the durable store.
// Callers that can degrade to in-memory mode test for it with errors.Is.
var ErrStoreUnavailable = errors.New("repository: store unavailable")

// Repository is the durable store for all three time grids, the two
// supplementary daily tables, and the sync metadata KV table.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(dbURL string) (*Repository, error) {
	config, err := poolConfig(dbURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Repository{db: pool}, nil
}

// poolConfig builds the pgx pool configuration for a connection URL. The
// session time zone is pinned to UTC: date_trunc on timestamptz truncates
// in the session zone, and grid bucket alignment requires UTC boundaries.
func poolConfig(dbURL string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	config.ConnConfig.RuntimeParams["timezone"] = "UTC"

	config.MaxConns = 10
	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	return config, nil
}

// Migrate executes the schema file. Every statement in it is idempotent.
func (r *Repository) Migrate(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	_, err = r.db.Exec(context.Background(), string(content))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Ping verifies the store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (r *Repository) Close() {
	r.db.Close()
}

// storageErr tags a database failure so callers can test errors.Is(err,
// ErrStoreUnavailable) without depending on pgx error types.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
