package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/scrollguard/internal/scoring"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
// The window slices are stored as JSONB; per-identity state is a single row
// keyed by identity, so read-modify-write needs no cross-row transactions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the session tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scoring_sessions (
			identity_key VARCHAR(42) PRIMARY KEY,
			dwells       JSONB NOT NULL DEFAULT '[]',
			timestamps   JSONB NOT NULL DEFAULT '[]',
			score        DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_update  TIMESTAMPTZ,
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS scoring_baselines (
			identity_key VARCHAR(42) PRIMARY KEY,
			variance     DOUBLE PRECISION NOT NULL,
			seeded_at    TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, identityKey string) (*scoring.Session, error) {
	var (
		s             scoring.Session
		dwellsJSON    []byte
		timestampsJSON []byte
		lastUpdate    sql.NullTime
	)

	err := p.db.QueryRowContext(ctx, `
		SELECT identity_key, dwells, timestamps, score, last_update
		FROM scoring_sessions WHERE identity_key = $1
	`, strings.ToLower(identityKey)).Scan(&s.IdentityKey, &dwellsJSON, &timestampsJSON, &s.Score, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal(dwellsJSON, &s.Dwells); err != nil {
		return nil, fmt.Errorf("decode dwells: %w", err)
	}
	if err := json.Unmarshal(timestampsJSON, &s.Timestamps); err != nil {
		return nil, fmt.Errorf("decode timestamps: %w", err)
	}
	if lastUpdate.Valid {
		s.LastUpdate = lastUpdate.Time
	}
	return &s, nil
}

func (p *PostgresStore) PutSession(ctx context.Context, s *scoring.Session) error {
	dwells := s.Dwells
	if dwells == nil {
		dwells = []float64{}
	}
	timestamps := s.Timestamps
	if timestamps == nil {
		timestamps = []time.Time{}
	}

	dwellsJSON, err := json.Marshal(dwells)
	if err != nil {
		return fmt.Errorf("encode dwells: %w", err)
	}
	timestampsJSON, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("encode timestamps: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO scoring_sessions (identity_key, dwells, timestamps, score, last_update, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (identity_key) DO UPDATE SET
			dwells      = EXCLUDED.dwells,
			timestamps  = EXCLUDED.timestamps,
			score       = EXCLUDED.score,
			last_update = EXCLUDED.last_update,
			updated_at  = NOW()
	`, strings.ToLower(s.IdentityKey), dwellsJSON, timestampsJSON, s.Score, nullTimeOrValue(s.LastUpdate))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBaseline(ctx context.Context, identityKey string) (*scoring.Baseline, error) {
	var b scoring.Baseline

	err := p.db.QueryRowContext(ctx, `
		SELECT identity_key, variance, seeded_at
		FROM scoring_baselines WHERE identity_key = $1
	`, strings.ToLower(identityKey)).Scan(&b.IdentityKey, &b.Variance, &b.SeededAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return &b, nil
}

// PutBaseline inserts the baseline for an identity. Baselines are
// write-once: a conflicting insert leaves the existing row untouched.
func (p *PostgresStore) PutBaseline(ctx context.Context, b *scoring.Baseline) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scoring_baselines (identity_key, variance, seeded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_key) DO NOTHING
	`, strings.ToLower(b.IdentityKey), b.Variance, b.SeededAt)
	if err != nil {
		return fmt.Errorf("put baseline: %w", err)
	}
	return nil
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
