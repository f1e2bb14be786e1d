package authproof

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestCreateEventMessage(t *testing.T) {
	msg := CreateEventMessage("0xABCDEF", "vid-42", 12.5, 1707234567)
	expected := "ScrollGuard|0xabcdef|vid-42|12.500|1707234567"
	if msg != expected {
		t.Errorf("Expected %s, got %s", expected, msg)
	}
}

func TestRecoverAddress(t *testing.T) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()

	message := CreateEventMessage(address, "vid-1", 30, 1707234567)
	sig, err := crypto.Sign(HashMessage(message), privateKey)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	// Ethereum signatures need v = 27 or 28
	sig[64] += 27

	recovered, err := RecoverAddress(message, "0x"+hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("RecoverAddress failed: %v", err)
	}

	if !strings.EqualFold(recovered, address) {
		t.Errorf("Expected %s, got %s", address, recovered)
	}
}

func TestRecoverAddressInvalidSignature(t *testing.T) {
	// Invalid hex
	if _, err := RecoverAddress("test", "not-hex"); err == nil {
		t.Error("Expected error for invalid hex")
	}

	// Wrong length
	if _, err := RecoverAddress("test", "0xabcd"); err == nil {
		t.Error("Expected error for wrong length")
	}
}

func TestLocalVerifier_ValidSignature(t *testing.T) {
	privateKey, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()

	message := CreateEventMessage(address, "vid-7", 45, 1707234567)
	sig, _ := crypto.Sign(HashMessage(message), privateKey)
	sig[64] += 27

	v := NewLocalVerifier()
	err := v.Verify(context.Background(), address, message, "0x"+hex.EncodeToString(sig))
	if err != nil {
		t.Errorf("Verify failed for valid signature: %v", err)
	}
}

func TestLocalVerifier_WrongSigner(t *testing.T) {
	claimedKey, _ := crypto.GenerateKey()
	claimed := crypto.PubkeyToAddress(claimedKey.PublicKey).Hex()

	// Sign with a different key
	wrongKey, _ := crypto.GenerateKey()

	message := CreateEventMessage(claimed, "vid-7", 45, 1707234567)
	sig, _ := crypto.Sign(HashMessage(message), wrongKey)
	sig[64] += 27

	v := NewLocalVerifier()
	err := v.Verify(context.Background(), claimed, message, "0x"+hex.EncodeToString(sig))
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Expected ErrSignatureMismatch, got %v", err)
	}
}

func TestLocalVerifier_TamperedMessage(t *testing.T) {
	privateKey, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()

	message := CreateEventMessage(address, "vid-7", 45, 1707234567)
	sig, _ := crypto.Sign(HashMessage(message), privateKey)
	sig[64] += 27

	tampered := CreateEventMessage(address, "vid-7", 450, 1707234567)

	v := NewLocalVerifier()
	err := v.Verify(context.Background(), address, tampered, "0x"+hex.EncodeToString(sig))
	if err == nil {
		t.Error("Expected verification failure for tampered message")
	}
}

func TestLocalVerifier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewLocalVerifier()
	err := v.Verify(ctx, "0xabc", "msg", "0xsig")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestAllowAllVerifier(t *testing.T) {
	v := AllowAllVerifier{}
	if err := v.Verify(context.Background(), "0xanything", "msg", "garbage"); err != nil {
		t.Errorf("AllowAllVerifier should accept everything, got %v", err)
	}
}
