package token

import (
	"errors"
	"time"
)

// Payload is the logical content of an agent token. It is never stored
// server-side in plaintext; the wire form is sealed and signed.
type Payload struct {
	AgentID     string    `json:"agent_id"`
	Tools       []string  `json:"tools"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
}

// AllowsTool reports whether the token scopes the given tool.
func (p *Payload) AllowsTool(tool string) bool {
	for _, t := range p.Tools {
		if t == tool || t == "*" {
			return true
		}
	}
	return false
}

// Verification is the result of a successful token check.
type Verification struct {
	Payload             *Payload
	TokenID             string
	RotationRecommended bool
}

// Verification and provenance failures. All are authentication failures:
// the pipeline fails closed on any of them and none are retried.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrDecryptionFailed = errors.New("token decryption failed")
	ErrMalformedPayload = errors.New("malformed token payload")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotFound    = errors.New("token not registered")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrProofMismatch    = errors.New("proof payload mismatch")
)

// IsAuthFailure reports whether err is one of the token auth failures.
func IsAuthFailure(err error) bool {
	for _, e := range []error{
		ErrMalformedToken, ErrInvalidSignature, ErrDecryptionFailed,
		ErrMalformedPayload, ErrTokenExpired, ErrTokenNotFound,
		ErrTokenRevoked, ErrProofMismatch,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
