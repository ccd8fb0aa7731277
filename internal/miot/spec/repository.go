package spec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepository implements Cache using SQLite.
//
// The spec_cache table is created by the initial schema migration; see
// the migrations package.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed spec cache.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the cached raw spec for a model.
func (r *SQLiteRepository) Get(ctx context.Context, model string) ([]byte, error) {
	query := `SELECT raw FROM spec_cache WHERE model = ?`

	var raw []byte
	err := r.db.QueryRowContext(ctx, query, model).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: model %q", ErrSpecNotFound, model)
		}
		return nil, fmt.Errorf("querying spec cache: %w", err)
	}
	return raw, nil
}

// Put stores the raw spec for a model, replacing any existing entry.
func (r *SQLiteRepository) Put(ctx context.Context, model, urn string, raw []byte) error {
	query := `
		INSERT INTO spec_cache (model, urn, raw, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model) DO UPDATE SET
			urn = excluded.urn,
			raw = excluded.raw,
			fetched_at = excluded.fetched_at`

	_, err := r.db.ExecContext(ctx, query, model, urn, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing spec cache entry: %w", err)
	}
	return nil
}

// Delete removes a cached spec for a model. The fetcher calls this to
// evict entries whose stored document no longer parses.
func (r *SQLiteRepository) Delete(ctx context.Context, model string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM spec_cache WHERE model = ?`, model)
	if err != nil {
		return fmt.Errorf("deleting spec cache entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: model %q", ErrSpecNotFound, model)
	}
	return nil
}
