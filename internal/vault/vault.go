package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/mbd888/scrollguard/internal/idgen"
	"github.com/mbd888/scrollguard/internal/metrics"
	"github.com/mbd888/scrollguard/internal/retry"
	"github.com/mbd888/scrollguard/internal/traces"
)

// Settler moves slashed funds on-chain. Satisfied by *Chain; nil disables
// on-chain settlement (balances are debited off-chain only).
type Settler interface {
	TransferToTreasury(ctx context.Context, amount *big.Int) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error
}

// Vault is the penalty executor: it debits custodial balances and, when a
// settler is configured, moves the slashed amount to the treasury.
type Vault struct {
	store   Store
	settler Settler
	logger  *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithSettler enables on-chain settlement of slashed amounts.
func WithSettler(s Settler) Option {
	return func(v *Vault) { v.settler = s }
}

// New creates a vault over the given balance store.
func New(store Store, logger *slog.Logger, opts ...Option) *Vault {
	v := &Vault{store: store, logger: logger}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Execute implements the penalty executor capability: slash the identity's
// custodial balance by amount (human-readable USDC) and return a settlement
// reference. Missing or insufficient balances are permanent failures;
// settlement errors are transient and leave the balance untouched.
func (v *Vault) Execute(ctx context.Context, identityKey, amount string) (string, error) {
	ctx, span := traces.StartSpan(ctx, "vault.slash",
		traces.IdentityKey(identityKey), traces.Amount(amount))
	defer span.End()

	raw, err := ParseUSDC(amount)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("invalid slash amount %q: %w", amount, err))
	}
	if raw.Sign() <= 0 {
		return "", retry.Permanent(fmt.Errorf("slash amount must be positive, got %q", amount))
	}

	if err := v.store.Debit(ctx, identityKey, raw); err != nil {
		if errors.Is(err, ErrNoBalance) || errors.Is(err, ErrInsufficientBalance) {
			return "", retry.Permanent(err)
		}
		return "", fmt.Errorf("debit: %w", err)
	}

	txRef := idgen.WithPrefix("slash_")

	if v.settler != nil {
		txHash, err := v.settler.TransferToTreasury(ctx, raw)
		if err == nil {
			err = v.settler.WaitForConfirmation(ctx, txHash, DefaultConfirmationTimeout)
		}
		if err != nil {
			// Settlement failed: return the debit so a retry starts clean.
			if cerr := v.store.Credit(ctx, identityKey, raw); cerr != nil {
				v.logger.Error("slash compensation failed, balance inconsistent",
					"identity", identityKey, "amount", amount, "error", cerr)
			}
			return "", fmt.Errorf("settle on-chain: %w", err)
		}
		txRef = txHash
	}

	f, _ := new(big.Float).SetInt(raw).Float64()
	metrics.SlashAmountTotal.Add(f / 1e6)

	v.logger.Info("custodial balance slashed",
		"identity", identityKey, "amount", amount, "tx_ref", txRef)
	return txRef, nil
}

// Deposit credits an identity's custodial balance.
func (v *Vault) Deposit(ctx context.Context, identityKey, amount string) error {
	raw, err := ParseUSDC(amount)
	if err != nil {
		return fmt.Errorf("invalid deposit amount %q: %w", amount, err)
	}
	if raw.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %q", amount)
	}
	return v.store.Credit(ctx, identityKey, raw)
}

// Balance returns the human-readable balance for an identity.
// Identities with no balance read as "0".
func (v *Vault) Balance(ctx context.Context, identityKey string) (string, error) {
	raw, err := v.store.Balance(ctx, identityKey)
	if errors.Is(err, ErrNoBalance) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return FormatUSDC(raw), nil
}
