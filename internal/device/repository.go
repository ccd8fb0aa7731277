package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device registry persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Get retrieves a record by its device identifier.
	// Returns ErrNotFound if the device does not exist.
	Get(ctx context.Context, did string) (*Record, error)

	// List retrieves all records, ordered by name then DID.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts a record or replaces the existing one with the
	// same DID. The registry is rebuilt from configuration at startup,
	// so a replace is always the right behaviour on conflict.
	Upsert(ctx context.Context, rec *Record) error

	// Delete removes a record by DID.
	// Returns ErrNotFound if the device does not exist.
	Delete(ctx context.Context, did string) error

	// Prune removes records whose DID is not in the keep set.
	// Used at startup to drop devices removed from configuration.
	Prune(ctx context.Context, keep []string) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get retrieves a record by its device identifier.
func (r *SQLiteRepository) Get(ctx context.Context, did string) (*Record, error) {
	query := `
		SELECT did, name, model, category, mode, updated_at
		FROM devices
		WHERE did = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, did))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by did: %w", err)
	}
	return rec, nil
}

// List retrieves all records, ordered by name then DID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT did, name, model, category, mode, updated_at
		FROM devices
		ORDER BY name, did`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return records, nil
}

// Upsert inserts a record or replaces the existing one with the same DID.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	rec.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO devices (did, name, model, category, mode, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			category = excluded.category,
			mode = excluded.mode,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.DID,
		rec.Name,
		rec.Model,
		rec.Category,
		rec.Mode,
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	return nil
}

// Delete removes a record by DID.
func (r *SQLiteRepository) Delete(ctx context.Context, did string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE did = ?", did)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Prune removes records whose DID is not in the keep set.
func (r *SQLiteRepository) Prune(ctx context.Context, keep []string) (int, error) {
	// An empty keep set clears the registry.
	query := "DELETE FROM devices"
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		placeholders := make([]byte, 0, 2*len(keep))
		for _, did := range keep {
			if len(placeholders) > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, did)
		}
		query += " WHERE did NOT IN (" + string(placeholders) + ")"
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning devices: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row or rows result into a Record.
func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var updatedAt string

	err := scanner.Scan(
		&rec.DID,
		&rec.Name,
		&rec.Model,
		&rec.Category,
		&rec.Mode,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}
