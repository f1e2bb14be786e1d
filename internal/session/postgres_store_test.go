//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/scrollguard/internal/scoring"
	"github.com/mbd888/scrollguard/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	store := NewPostgresStore(db)

	if err := store.Migrate(context.Background()); err != nil {
		cleanup()
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store, cleanup
}

func TestPostgres_SessionRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	s := &scoring.Session{
		IdentityKey: "0xAAAA000000000000000000000000000000000001",
		Dwells:      []float64{12.5, 3.0, 45.2},
		Timestamps:  []time.Time{now.Add(-2 * time.Minute), now.Add(-time.Minute), now},
		Score:       42.5,
		LastUpdate:  now,
	}
	if err := store.PutSession(ctx, s); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	// Lookup is case-insensitive on the address
	got, err := store.GetSession(ctx, "0xaaaa000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if got.Score != 42.5 {
		t.Errorf("Expected score 42.5, got %v", got.Score)
	}
	if len(got.Dwells) != 3 || got.Dwells[2] != 45.2 {
		t.Errorf("Dwells did not survive round trip: %v", got.Dwells)
	}
	if len(got.Timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(got.Timestamps))
	}
	if !got.Timestamps[2].Equal(now) {
		t.Errorf("Expected last timestamp %v, got %v", now, got.Timestamps[2])
	}
	if !got.LastUpdate.Equal(now) {
		t.Errorf("Expected last update %v, got %v", now, got.LastUpdate)
	}
}

func TestPostgres_SessionNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetSession(context.Background(), "0xaaaa0000000000000000000000000000000000ff")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_SessionUpsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000002"

	first := &scoring.Session{IdentityKey: addr, Dwells: []float64{1}, Score: 10}
	if err := store.PutSession(ctx, first); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	// A session reset writes empty windows and score 0 over the same row
	reset := &scoring.Session{IdentityKey: addr, Dwells: []float64{}, Timestamps: []time.Time{}, Score: 0}
	if err := store.PutSession(ctx, reset); err != nil {
		t.Fatalf("PutSession (reset) failed: %v", err)
	}

	got, err := store.GetSession(ctx, addr)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Score != 0 {
		t.Errorf("Expected score 0 after reset, got %v", got.Score)
	}
	if len(got.Dwells) != 0 {
		t.Errorf("Expected empty dwells after reset, got %v", got.Dwells)
	}
}

func TestPostgres_BaselineWriteOnce(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000003"
	seeded := time.Now().UTC().Truncate(time.Millisecond)

	if err := store.PutBaseline(ctx, &scoring.Baseline{IdentityKey: addr, Variance: 7.5, SeededAt: seeded}); err != nil {
		t.Fatalf("PutBaseline failed: %v", err)
	}

	// Second write must not overwrite the seeded variance
	if err := store.PutBaseline(ctx, &scoring.Baseline{IdentityKey: addr, Variance: 99.9, SeededAt: seeded.Add(time.Hour)}); err != nil {
		t.Fatalf("PutBaseline (conflict) failed: %v", err)
	}

	got, err := store.GetBaseline(ctx, addr)
	if err != nil {
		t.Fatalf("GetBaseline failed: %v", err)
	}
	if got.Variance != 7.5 {
		t.Errorf("Expected variance 7.5 (write-once), got %v", got.Variance)
	}
}

func TestPostgres_BaselineNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetBaseline(context.Background(), "0xaaaa0000000000000000000000000000000000fe")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
