package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RegistryEntry records an issued token for provenance checks. Only the
// payload hash is stored, never the payload itself.
type RegistryEntry struct {
	TokenID     string     `json:"token_id"`
	AgentID     string     `json:"agent_id"`
	PayloadHash string     `json:"payload_hash"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsRevoked   bool       `json:"is_revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// RegistryStore persists registry entries.
type RegistryStore interface {
	Insert(ctx context.Context, entry RegistryEntry) error
	Get(ctx context.Context, tokenID string) (*RegistryEntry, error)
	Revoke(ctx context.Context, tokenID string, at time.Time) error
}

// Registry is the provenance side-channel: callers who present a token id
// and the original proof payload get a second, independent authentication
// factor on top of signature verification.
type Registry struct {
	store RegistryStore
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Record persists an issuance entry.
func (r *Registry) Record(ctx context.Context, entry RegistryEntry) error {
	return r.store.Insert(ctx, entry)
}

// CheckProof verifies that tokenID is registered, not revoked, and that the
// SHA-256 of proofPayload matches the hash recorded at issuance.
func (r *Registry) CheckProof(ctx context.Context, tokenID string, proofPayload []byte) error {
	entry, err := r.store.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrTokenNotFound
	}
	if entry.IsRevoked {
		return ErrTokenRevoked
	}

	sum := sha256.Sum256(proofPayload)
	if hex.EncodeToString(sum[:]) != entry.PayloadHash {
		return ErrProofMismatch
	}
	return nil
}

// Revoke marks a token as revoked. Verification by signature still succeeds
// for revoked tokens; only the provenance check rejects them, which is why
// callers requiring revocation must submit proof.
func (r *Registry) Revoke(ctx context.Context, tokenID string) error {
	return r.store.Revoke(ctx, tokenID, r.now().UTC())
}
