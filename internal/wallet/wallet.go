// Package wallet resolves per-user signing wallets.
//
// Positions record the owning wallet's public key at open time so that the
// reconciliation engine can group on-chain balance lookups per wallet.
// Actual key material never enters this process: signing happens in an
// external service reached through a SignerResolver.
package wallet

import (
	"context"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Signer is a signing capability for one wallet.
type Signer interface {
	// PublicKey returns the wallet's base58-encoded public key.
	PublicKey() string

	// Sign signs a serialized transaction message.
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// SignerResolver resolves the signer for a user.
type SignerResolver interface {
	Resolve(ctx context.Context, userID string) (Signer, error)
}

// ValidatePublicKey checks that a string is a base58-encoded ed25519 point.
// System accounts must be on the curve; program-derived addresses are not
// valid wallet owners.
func ValidatePublicKey(key string) error {
	raw, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("public key not on curve")
	}
	return nil
}
