// Package session persists per-identity scoring state: the rolling session
// window and the write-once variance baseline.
package session

import (
	"context"
	"errors"

	"github.com/mbd888/scrollguard/internal/scoring"
)

// ErrNotFound is returned when no state exists for an identity.
var ErrNotFound = errors.New("session state not found")

// Store provides keyed access to session and baseline state. Only the
// ingestion service writes; per-identity serialization is the caller's
// responsibility (the store itself needs no cross-key transactions).
type Store interface {
	GetSession(ctx context.Context, identityKey string) (*scoring.Session, error)
	PutSession(ctx context.Context, s *scoring.Session) error
	GetBaseline(ctx context.Context, identityKey string) (*scoring.Baseline, error)
	PutBaseline(ctx context.Context, b *scoring.Baseline) error
}
