package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			did        TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			model      TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT '',
			mode       TEXT NOT NULL DEFAULT 'local',
			updated_at TEXT NOT NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testRecord creates a registry record for testing.
func testRecord(did, name string) *Record {
	return &Record{
		DID:      did,
		Name:     name,
		Model:    "zhimi.fan.za5",
		Category: "fan",
		Mode:     "local",
	}
}

func TestUpsertAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord("712345678", "Bedroom Fan")
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("Upsert() did not set UpdatedAt")
	}

	got, err := repo.Get(ctx, "712345678")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Bedroom Fan" {
		t.Errorf("Name = %q, want %q", got.Name, "Bedroom Fan")
	}
	if got.Model != "zhimi.fan.za5" {
		t.Errorf("Model = %q, want %q", got.Model, "zhimi.fan.za5")
	}
	if got.Category != "fan" {
		t.Errorf("Category = %q, want %q", got.Category, "fan")
	}
	if got.Mode != "local" {
		t.Errorf("Mode = %q, want %q", got.Mode, "local")
	}
	if got.UpdatedAt.IsZero() {
		t.Error("Get() returned zero UpdatedAt")
	}
}

func TestGetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.Get(context.Background(), "999999999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("712345678", "Bedroom Fan")); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}

	renamed := testRecord("712345678", "Office Fan")
	renamed.Mode = "cloud"
	if err := repo.Upsert(ctx, renamed); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, err := repo.Get(ctx, "712345678")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Office Fan" {
		t.Errorf("Name = %q, want %q", got.Name, "Office Fan")
	}
	if got.Mode != "cloud" {
		t.Errorf("Mode = %q, want %q", got.Mode, "cloud")
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1", len(records))
	}
}

func TestUpsertValidation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing did", func(r *Record) { r.DID = "" }},
		{"missing model", func(r *Record) { r.Model = "" }},
		{"malformed model", func(r *Record) { r.Model = "za5" }},
		{"unknown mode", func(r *Record) { r.Mode = "hybrid" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("712345678", "Bedroom Fan")
			tt.mutate(rec)
			if err := repo.Upsert(ctx, rec); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Upsert() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestListOrdersByName(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, rec := range []*Record{
		testRecord("3", "Wardrobe Fan"),
		testRecord("1", "Bedroom Fan"),
		testRecord("2", "Office Fan"),
	} {
		if err := repo.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert(%s) error = %v", rec.DID, err)
		}
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	want := []string{"Bedroom Fan", "Office Fan", "Wardrobe Fan"}
	for i, name := range want {
		if records[i].Name != name {
			t.Errorf("records[%d].Name = %q, want %q", i, records[i].Name, name)
		}
	}
}

func TestListEmpty(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	records, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}

func TestDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("712345678", "Bedroom Fan")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := repo.Delete(ctx, "712345678"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.Get(ctx, "712345678"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	if err := repo.Delete(ctx, "712345678"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, did := range []string{"1", "2", "3"} {
		if err := repo.Upsert(ctx, testRecord(did, "Fan "+did)); err != nil {
			t.Fatalf("Upsert(%s) error = %v", did, err)
		}
	}

	removed, err := repo.Prune(ctx, []string{"1", "3"})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed = %d, want 1", removed)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
	for _, rec := range records {
		if rec.DID == "2" {
			t.Error("pruned record still present")
		}
	}
}

func TestPruneEmptyKeepClearsRegistry(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("712345678", "Bedroom Fan")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	removed, err := repo.Prune(ctx, nil)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed = %d, want 1", removed)
	}
}

func TestRecordUpdatedAtRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	if err := repo.Upsert(ctx, testRecord("712345678", "Bedroom Fan")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.Get(ctx, "712345678")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UpdatedAt.Before(before) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, before)
	}
}
