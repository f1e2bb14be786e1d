// Package vault holds custodial USDC balances and executes penalty slashes
// against them, optionally settling the slashed amount on-chain.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	// ErrNoBalance is returned when no custodial balance exists for an identity.
	ErrNoBalance = errors.New("vault: no custodial balance")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
)

// Store keeps custodial balances in raw micro-USDC units.
type Store interface {
	// Balance returns the raw balance for an identity, ErrNoBalance if absent.
	Balance(ctx context.Context, identityKey string) (*big.Int, error)
	// Credit adds to an identity's balance, creating it if absent.
	Credit(ctx context.Context, identityKey string, amount *big.Int) error
	// Debit atomically subtracts from an identity's balance.
	// Fails with ErrNoBalance or ErrInsufficientBalance without partial effect.
	Debit(ctx context.Context, identityKey string, amount *big.Int) error
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory balance store for demo/development mode.
type MemoryStore struct {
	balances map[string]*big.Int
	mu       sync.Mutex
}

// NewMemoryStore creates a new in-memory balance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]*big.Int)}
}

func (m *MemoryStore) Balance(ctx context.Context, identityKey string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[strings.ToLower(identityKey)]
	if !ok {
		return nil, ErrNoBalance
	}
	return new(big.Int).Set(b), nil
}

func (m *MemoryStore) Credit(ctx context.Context, identityKey string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(identityKey)
	b, ok := m.balances[key]
	if !ok {
		b = new(big.Int)
		m.balances[key] = b
	}
	b.Add(b, amount)
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, identityKey string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[strings.ToLower(identityKey)]
	if !ok {
		return ErrNoBalance
	}
	if b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Balances are raw
// micro-USDC in a BIGINT column; debits are a single conditional UPDATE so
// concurrent slashes can never overdraw.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed balance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the vault_balances table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_balances (
			identity_key VARCHAR(42) PRIMARY KEY,
			balance      BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context, identityKey string) (*big.Int, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT balance FROM vault_balances WHERE identity_key = $1
	`, strings.ToLower(identityKey)).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ErrNoBalance
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return big.NewInt(balance), nil
}

func (p *PostgresStore) Credit(ctx context.Context, identityKey string, amount *big.Int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vault_balances (identity_key, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identity_key) DO UPDATE SET
			balance = vault_balances.balance + EXCLUDED.balance,
			updated_at = NOW()
	`, strings.ToLower(identityKey), amount.Int64())
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func (p *PostgresStore) Debit(ctx context.Context, identityKey string, amount *big.Int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE vault_balances
		SET balance = balance - $2, updated_at = NOW()
		WHERE identity_key = $1 AND balance >= $2
	`, strings.ToLower(identityKey), amount.Int64())
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing row from an underfunded one.
		if _, berr := p.Balance(ctx, identityKey); berr == ErrNoBalance {
			return ErrNoBalance
		}
		return ErrInsufficientBalance
	}
	return nil
}
