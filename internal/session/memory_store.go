package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/scrollguard/internal/scoring"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory session store for demo/development mode.
type MemoryStore struct {
	sessions  map[string]*scoring.Session
	baselines map[string]*scoring.Baseline
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*scoring.Session),
		baselines: make(map[string]*scoring.Baseline),
	}
}

func (m *MemoryStore) GetSession(ctx context.Context, identityKey string) (*scoring.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[strings.ToLower(identityKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Dwells = append([]float64(nil), s.Dwells...)
	cp.Timestamps = append([]time.Time(nil), s.Timestamps...)
	return &cp, nil
}

func (m *MemoryStore) PutSession(ctx context.Context, s *scoring.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.Dwells = append([]float64(nil), s.Dwells...)
	cp.Timestamps = append([]time.Time(nil), s.Timestamps...)
	m.sessions[strings.ToLower(s.IdentityKey)] = &cp
	return nil
}

func (m *MemoryStore) GetBaseline(ctx context.Context, identityKey string) (*scoring.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.baselines[strings.ToLower(identityKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) PutBaseline(ctx context.Context, b *scoring.Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.baselines[strings.ToLower(b.IdentityKey)] = &cp
	return nil
}
