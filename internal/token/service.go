package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/4runr/gateway/internal/crypto"
)

// Service issues and verifies agent tokens. The wire form is
// base64(sealed payload) + "." + hex(HMAC-SHA256(secret, base64 segment)).
type Service struct {
	sealer         *crypto.Sealer
	signer         *crypto.Signer
	registry       *Registry
	rotationWindow time.Duration
	now            func() time.Time // injectable clock for testing
}

// NewService creates a token service. The registry may be nil, in which case
// issued tokens are not recorded for provenance checks.
func NewService(sealer *crypto.Sealer, signer *crypto.Signer, registry *Registry, rotationWindow time.Duration) *Service {
	return &Service{
		sealer:         sealer,
		signer:         signer,
		registry:       registry,
		rotationWindow: rotationWindow,
		now:            time.Now,
	}
}

// IssueResult is returned from Issue.
type IssueResult struct {
	Token     string    `json:"agent_token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue builds a payload for the agent, seals and signs it, and records the
// issuance in the provenance registry. A registry write failure fails
// issuance: a token the registry does not know about would flunk every
// provenance check for its whole lifetime.
func (s *Service) Issue(ctx context.Context, agentID string, tools, permissions []string, ttl time.Duration) (*IssueResult, error) {
	if s.sealer == nil || s.signer == nil {
		return nil, crypto.ErrNotConfigured
	}

	now := s.now().UTC()
	payload := Payload{
		AgentID:     agentID,
		Tools:       tools,
		Permissions: permissions,
		ExpiresAt:   now.Add(ttl),
		IssuedAt:    now,
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding token payload: %w", err)
	}

	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing token payload: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(sealed)
	sig := s.signer.Sign([]byte(encoded))

	tokenID := uuid.NewString()
	if s.registry != nil {
		entry := RegistryEntry{
			TokenID:     tokenID,
			AgentID:     agentID,
			PayloadHash: hex.EncodeToString(hashBytes(plaintext)),
			IssuedAt:    now,
			ExpiresAt:   payload.ExpiresAt,
		}
		if err := s.registry.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("recording token issuance: %w", err)
		}
	}

	return &IssueResult{
		Token:     encoded + "." + sig,
		TokenID:   tokenID,
		ExpiresAt: payload.ExpiresAt,
	}, nil
}

// Verify checks the signature, unseals the payload, and enforces expiry.
// When the remaining lifetime is within the rotation window the result is
// flagged so the caller can surface a rotation hint.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Verification, error) {
	if s.sealer == nil || s.signer == nil {
		return nil, crypto.ErrNotConfigured
	}

	dot := strings.LastIndex(tokenString, ".")
	if dot <= 0 || dot == len(tokenString)-1 {
		return nil, ErrMalformedToken
	}
	encoded, sig := tokenString[:dot], tokenString[dot+1:]

	if !s.signer.Verify([]byte(encoded), sig) {
		return nil, ErrInvalidSignature
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedToken
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	payload := &Payload{}
	if err := json.Unmarshal(plaintext, payload); err != nil {
		return nil, ErrMalformedPayload
	}
	if payload.AgentID == "" || payload.ExpiresAt.IsZero() {
		return nil, ErrMalformedPayload
	}

	now := s.now().UTC()
	if now.After(payload.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	return &Verification{
		Payload:             payload,
		RotationRecommended: payload.ExpiresAt.Sub(now) < s.rotationWindow,
	}, nil
}

func hashBytes(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
