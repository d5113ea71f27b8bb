package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	pubPEM, privPEM, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	s, err := NewSealer(pubPEM, privPEM)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealOpenRoundtrip(t *testing.T) {
	s := testSealer(t)

	original := []byte(`{"agent_id":"a1","tools":["search"],"permissions":["read"]}`)
	sealed, err := s.Seal(original)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, original) {
		t.Fatal("sealed payload should not contain plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, original) {
		t.Errorf("roundtrip failed: got %q, want %q", opened, original)
	}
}

func TestSealLargePayload(t *testing.T) {
	// Larger than the RSA modulus; exercises the hybrid construction.
	s := testSealer(t)
	payload := bytes.Repeat([]byte("x"), 4096)

	sealed, err := s.Seal(payload)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, payload) {
		t.Error("large payload roundtrip failed")
	}
}

func TestOpenTamperedPayload(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Flip a bit in the ciphertext tail.
	sealed[len(sealed)-1] ^= 0x01
	if _, err := s.Open(sealed); err == nil {
		t.Error("expected error opening tampered payload")
	}

	// Truncated input.
	if _, err := s.Open(sealed[:10]); err == nil {
		t.Error("expected error opening truncated payload")
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	s1 := testSealer(t)
	s2 := testSealer(t)

	sealed, err := s1.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s2.Open(sealed); err == nil {
		t.Error("expected error opening with a different private key")
	}
}

func TestSealerNotConfigured(t *testing.T) {
	if _, err := NewSealer(nil, nil); err != ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	s, err := NewSigner("shared-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	data := []byte("ciphertext-bytes")
	sig := s.Sign(data)

	if !s.Verify(data, sig) {
		t.Error("valid signature should verify")
	}
	if s.Verify([]byte("other data"), sig) {
		t.Error("signature over different data should not verify")
	}
	if s.Verify(data, sig[:len(sig)-2]+"ff") {
		t.Error("tampered signature should not verify")
	}
	if s.Verify(data, "not-hex!") {
		t.Error("non-hex signature should not verify")
	}
}

func TestSignerEmptySecret(t *testing.T) {
	if _, err := NewSigner(""); err != ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSignerSecretRotation(t *testing.T) {
	s, err := NewSigner("old-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	data := []byte("data")
	oldSig := s.Sign(data)

	s.SetSecret("new-secret")
	if s.Verify(data, oldSig) {
		t.Error("signature under old secret should not verify after rotation")
	}
	if !s.Verify(data, s.Sign(data)) {
		t.Error("signature under new secret should verify")
	}
}

func testWrapKey() string {
	return hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestWrapUnwrapRoundtrip(t *testing.T) {
	w, err := NewKeyWrapper(testWrapKey())
	if err != nil {
		t.Fatalf("NewKeyWrapper: %v", err)
	}

	original := "upstream-api-key-secret"
	wrapped, err := w.Wrap(original)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if wrapped == original {
		t.Fatal("wrapped value should differ from plaintext")
	}

	unwrapped, err := w.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if unwrapped != original {
		t.Errorf("roundtrip failed: got %q, want %q", unwrapped, original)
	}
}

func TestNilWrapperPassthrough(t *testing.T) {
	var w *KeyWrapper

	text := "plain-credential"
	wrapped, err := w.Wrap(text)
	if err != nil {
		t.Fatalf("nil Wrap: %v", err)
	}
	if wrapped != text {
		t.Errorf("nil Wrap should return plaintext unchanged, got %q", wrapped)
	}

	unwrapped, err := w.Unwrap(text)
	if err != nil {
		t.Fatalf("nil Unwrap: %v", err)
	}
	if unwrapped != text {
		t.Errorf("nil Unwrap should return input unchanged, got %q", unwrapped)
	}
}

func TestNewKeyWrapperBadKey(t *testing.T) {
	if _, err := NewKeyWrapper("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := NewKeyWrapper(hex.EncodeToString([]byte("short"))); err == nil {
		t.Error("expected error for wrong-length key")
	}
	w, err := NewKeyWrapper("")
	if err != nil || w != nil {
		t.Error("empty key should return nil wrapper without error")
	}
}

func TestUnwrapTampered(t *testing.T) {
	w, err := NewKeyWrapper(testWrapKey())
	if err != nil {
		t.Fatalf("NewKeyWrapper: %v", err)
	}
	if _, err := w.Unwrap("not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := w.Unwrap("c2hvcnQ="); err == nil {
		t.Error("expected error for too-short ciphertext")
	}
}
