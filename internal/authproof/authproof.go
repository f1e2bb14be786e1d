// Package authproof verifies that dwell events were produced by the holder
// of the identity key they claim, via EIP-191 personal-message signatures.
package authproof

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch is returned when a signature recovers to a
// different address than the event claims.
var ErrSignatureMismatch = errors.New("signature mismatch")

// Verifier checks the authenticity proof attached to an event.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, identityKey, message, signatureHex string) error
}

// CreateEventMessage builds the canonical message an extension signs for a
// dwell event. Format: "ScrollGuard|{identity}|{content_id}|{duration_s}|{unix_ts}"
func CreateEventMessage(identityKey, contentID string, durationSeconds float64, timestamp int64) string {
	return fmt.Sprintf("ScrollGuard|%s|%s|%.3f|%d",
		strings.ToLower(identityKey),
		contentID,
		durationSeconds,
		timestamp,
	)
}

// HashMessage creates an Ethereum signed message hash
// This prefixes the message with "\x19Ethereum Signed Message:\n{len}" as per EIP-191
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverAddress recovers the signer's address from a message and signature
// signature should be hex-encoded, 65 bytes (r[32] + s[32] + v[1])
func RecoverAddress(message string, signatureHex string) (string, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")

	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}

	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Ethereum signatures have v = 27 or 28, but Ecrecover expects 0 or 1
	if signature[64] >= 27 {
		signature[64] -= 27
	}

	messageHash := HashMessage(message)

	pubKeyBytes, err := crypto.Ecrecover(messageHash, signature)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	address := crypto.PubkeyToAddress(*pubKey)
	return strings.ToLower(address.Hex()), nil
}

// VerifySignature verifies that a signature was created by the expected address
func VerifySignature(message string, signatureHex string, expectedAddress string) error {
	recoveredAddr, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	if !strings.EqualFold(recoveredAddr, expectedAddress) {
		return fmt.Errorf("%w: expected %s, got %s", ErrSignatureMismatch, expectedAddress, recoveredAddr)
	}

	return nil
}

// LocalVerifier verifies signatures in-process via Ecrecover.
type LocalVerifier struct{}

var _ Verifier = (*LocalVerifier)(nil)

// NewLocalVerifier creates a verifier that recovers and compares addresses locally.
func NewLocalVerifier() *LocalVerifier {
	return &LocalVerifier{}
}

// Verify checks the signature against the claimed identity key.
// The ctx is honored between hashing and recovery so callers can bound
// the check even though recovery itself is CPU-only.
func (v *LocalVerifier) Verify(ctx context.Context, identityKey, message, signatureHex string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return VerifySignature(message, signatureHex, identityKey)
}

// AllowAllVerifier accepts every proof. Development and tests only.
type AllowAllVerifier struct{}

var _ Verifier = (*AllowAllVerifier)(nil)

func (AllowAllVerifier) Verify(context.Context, string, string, string) error { return nil }
