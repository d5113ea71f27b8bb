package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/4runr/gateway/internal/crypto"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, clock *fakeClock) (*Service, *Registry) {
	t.Helper()

	pubPEM, privPEM, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sealer, err := crypto.NewSealer(pubPEM, privPEM)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	signer, err := crypto.NewSigner("test-signing-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	registry := NewRegistry(NewMemRegistryStore())
	svc := NewService(sealer, signer, registry, time.Minute)
	if clock != nil {
		svc.now = clock.Now
		registry.now = clock.Now
	}
	return svc, registry
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	res, err := svc.Issue(ctx, "agent-1", []string{"search", "mail"}, []string{"read", "write"}, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.Contains(res.Token, ".") {
		t.Fatal("token should contain a signature separator")
	}

	v, err := svc.Verify(ctx, res.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Payload.AgentID != "agent-1" {
		t.Errorf("agent id mismatch: %q", v.Payload.AgentID)
	}
	if len(v.Payload.Tools) != 2 || v.Payload.Tools[0] != "search" {
		t.Errorf("tools mismatch: %v", v.Payload.Tools)
	}
	if v.RotationRecommended {
		t.Error("fresh token should not recommend rotation")
	}
	if !v.Payload.AllowsTool("mail") || v.Payload.AllowsTool("llm") {
		t.Error("AllowsTool should track the issued tool list")
	}
}

func TestVerifyExpired(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	res, err := svc.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := svc.Verify(ctx, res.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRotationWindow(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	// 90s TTL, 60s rotation window: after 70s only 20s remain.
	res, err := svc.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, 90*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(70 * time.Second)
	v, err := svc.Verify(ctx, res.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.RotationRecommended {
		t.Error("token inside the rotation window should recommend rotation")
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	dot := strings.LastIndex(res.Token, ".")
	tampered := res.Token[:dot] + ".deadbeef" + res.Token[dot+9:]
	if _, err := svc.Verify(ctx, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyTamperedCiphertext(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Any ciphertext change invalidates the HMAC first; never a false accept.
	tampered := "A" + res.Token[1:]
	_, err = svc.Verify(ctx, tampered)
	if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected signature or decryption failure, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, tok := range []string{"", "nodot", ".leadingdot", "trailingdot."} {
		if _, err := svc.Verify(ctx, tok); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify(%q): expected ErrMalformedToken, got %v", tok, err)
		}
	}
}

func TestVerifyWrongKey(t *testing.T) {
	svc1, _ := newTestService(t, nil)
	svc2, _ := newTestService(t, nil)
	// Same signing secret so the HMAC passes and decryption is exercised.
	ctx := context.Background()

	res, err := svc1.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc2.Verify(ctx, res.Token); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestCheckProof(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc, registry := newTestService(t, clock)
	ctx := context.Background()

	res, err := svc.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Reconstruct the issued payload; its hash is what the registry holds.
	payload := Payload{
		AgentID:     "agent-1",
		Tools:       []string{"search"},
		Permissions: []string{"read"},
		ExpiresAt:   clock.Now().UTC().Add(time.Minute),
		IssuedAt:    clock.Now().UTC(),
	}
	proof, _ := json.Marshal(payload)

	if err := registry.CheckProof(ctx, res.TokenID, proof); err != nil {
		t.Errorf("valid proof should pass: %v", err)
	}

	if err := registry.CheckProof(ctx, res.TokenID, []byte("other")); !errors.Is(err, ErrProofMismatch) {
		t.Errorf("expected ErrProofMismatch, got %v", err)
	}
	if err := registry.CheckProof(ctx, "unknown-id", proof); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}

	if err := registry.Revoke(ctx, res.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := registry.CheckProof(ctx, res.TokenID, proof); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestIssueRecordsPayloadHash(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc, _ := newTestService(t, clock)
	store := NewMemRegistryStore()
	svc.registry = NewRegistry(store)
	ctx := context.Background()

	res, err := svc.Issue(ctx, "agent-1", []string{"search"}, []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	entry, err := store.Get(ctx, res.TokenID)
	if err != nil || entry == nil {
		t.Fatalf("registry entry missing: %v", err)
	}

	payload := Payload{
		AgentID:     "agent-1",
		Tools:       []string{"search"},
		Permissions: []string{"read"},
		ExpiresAt:   clock.Now().UTC().Add(time.Minute),
		IssuedAt:    clock.Now().UTC(),
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	if entry.PayloadHash != hex.EncodeToString(sum[:]) {
		t.Error("registry payload hash should match the issued payload")
	}
}

func TestIsAuthFailure(t *testing.T) {
	for _, err := range []error{
		ErrMalformedToken, ErrInvalidSignature, ErrDecryptionFailed,
		ErrMalformedPayload, ErrTokenExpired, ErrTokenNotFound,
		ErrTokenRevoked, ErrProofMismatch,
	} {
		if !IsAuthFailure(err) {
			t.Errorf("%v should classify as auth failure", err)
		}
	}
	if IsAuthFailure(errors.New("other")) {
		t.Error("arbitrary errors should not classify as auth failures")
	}
}
