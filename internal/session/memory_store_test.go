package session

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/scrollguard/internal/scoring"
)

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "0xabc"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown identity, got %v", err)
	}

	s := scoring.NewSession("0xABC")
	s.Dwells = []float64{30, 5}
	s.Timestamps = []time.Time{time.Now(), time.Now().Add(10 * time.Second)}
	s.Score = 45

	if err := store.PutSession(ctx, s); err != nil {
		t.Fatalf("put session: %v", err)
	}

	// Lookup is case-insensitive on the identity key.
	got, err := store.GetSession(ctx, "0xabc")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Score != 45 || len(got.Dwells) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// The stored copy must not alias the caller's slices.
	s.Dwells[0] = 999
	got2, _ := store.GetSession(ctx, "0xabc")
	if got2.Dwells[0] == 999 {
		t.Error("store aliases caller-owned slice")
	}
}

func TestMemoryStoreBaselineRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetBaseline(ctx, "0xabc"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	b := &scoring.Baseline{IdentityKey: "0xabc", Variance: 173.6, SeededAt: time.Now()}
	if err := store.PutBaseline(ctx, b); err != nil {
		t.Fatalf("put baseline: %v", err)
	}

	got, err := store.GetBaseline(ctx, "0xABC")
	if err != nil {
		t.Fatalf("get baseline: %v", err)
	}
	if got.Variance != 173.6 {
		t.Errorf("variance = %v, want 173.6", got.Variance)
	}
}
