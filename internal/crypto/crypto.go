package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotConfigured is returned when an operation requires key material that
// has not been provided.
var ErrNotConfigured = errors.New("crypto: key material not configured")

const gcmNonceSize = 12

// Sealer performs asymmetric sealing of small payloads. Payloads are
// encrypted with a fresh AES-256-GCM key, and the key itself is sealed with
// RSA-OAEP, so payload size is not bounded by the RSA modulus.
//
// Keys are held behind atomic pointers so they can be rotated while requests
// are in flight; a reader observes either the old or the new key, never a
// torn value.
type Sealer struct {
	pub  atomic.Pointer[rsa.PublicKey]
	priv atomic.Pointer[rsa.PrivateKey]
}

// NewSealer creates a Sealer from PEM-encoded RSA keys. Either key may be
// empty: a seal-only caller needs the public key, an open-only caller the
// private one.
func NewSealer(pubPEM, privPEM []byte) (*Sealer, error) {
	s := &Sealer{}

	if len(pubPEM) > 0 {
		pub, err := parsePublicKey(pubPEM)
		if err != nil {
			return nil, err
		}
		s.pub.Store(pub)
	}
	if len(privPEM) > 0 {
		priv, err := parsePrivateKey(privPEM)
		if err != nil {
			return nil, err
		}
		s.priv.Store(priv)
		if s.pub.Load() == nil {
			s.pub.Store(&priv.PublicKey)
		}
	}

	if s.pub.Load() == nil && s.priv.Load() == nil {
		return nil, ErrNotConfigured
	}
	return s, nil
}

// Rotate swaps in new key material. A nil argument leaves the current key
// in place.
func (s *Sealer) Rotate(pub *rsa.PublicKey, priv *rsa.PrivateKey) {
	if pub != nil {
		s.pub.Store(pub)
	}
	if priv != nil {
		s.priv.Store(priv)
		s.pub.Store(&priv.PublicKey)
	}
}

// Seal encrypts plaintext and returns the raw sealed bytes:
// [RSA-OAEP(sealed AES key)][12-byte nonce][AES-GCM ciphertext].
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	pub := s.pub.Load()
	if pub == nil {
		return nil, ErrNotConfigured
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating payload key: %w", err)
	}

	sealedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("sealing payload key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedKey)+gcmNonceSize+len(plaintext)+aead.Overhead())
	out = append(out, sealedKey...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open decrypts bytes produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	priv := s.priv.Load()
	if priv == nil {
		return nil, ErrNotConfigured
	}

	keyLen := priv.Size()
	if len(sealed) < keyLen+gcmNonceSize {
		return nil, errors.New("sealed payload too short")
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, sealed[:keyLen], nil)
	if err != nil {
		return nil, fmt.Errorf("unsealing payload key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := sealed[keyLen : keyLen+gcmNonceSize]
	plaintext, err := aead.Open(nil, nonce, sealed[keyLen+gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return plaintext, nil
}

// Signer computes and verifies HMAC-SHA256 signatures with a shared secret.
// The secret is swappable at runtime for the same rotation guarantee the
// Sealer gives.
type Signer struct {
	secret atomic.Pointer[[]byte]
}

// NewSigner creates a Signer. Returns an error if the secret is empty.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNotConfigured
	}
	s := &Signer{}
	b := []byte(secret)
	s.secret.Store(&b)
	return s, nil
}

// SetSecret replaces the signing secret.
func (s *Signer) SetSecret(secret string) {
	b := []byte(secret)
	s.secret.Store(&b)
}

// Sign returns the hex-encoded HMAC-SHA256 of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, *s.secret.Load())
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over data and compares it to sig in
// constant time.
func (s *Signer) Verify(data []byte, sig string) bool {
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, *s.secret.Load())
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}

// KeyWrapper encrypts secrets at rest with XChaCha20-Poly1305. It stands in
// for an external KMS; callers depend on the Wrapper interface so a real KMS
// can replace it.
type KeyWrapper struct {
	aead cipher.AEAD
}

// Wrapper is the key-wrapping contract consumed by credential storage.
type Wrapper interface {
	Wrap(plaintext string) (string, error)
	Unwrap(wrapped string) (string, error)
}

// NewKeyWrapper creates a KeyWrapper from a hex-encoded 32-byte key.
// Returns nil if key is empty (wrapping disabled).
func NewKeyWrapper(hexKey string) (*KeyWrapper, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305: %w", err)
	}

	return &KeyWrapper{aead: aead}, nil
}

// Wrap encrypts plaintext and returns base64-encoded ciphertext with
// prepended nonce. If KeyWrapper is nil, returns plaintext unchanged.
func (k *KeyWrapper) Wrap(plaintext string) (string, error) {
	if k == nil {
		return plaintext, nil
	}

	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Unwrap decrypts base64-encoded ciphertext (with prepended nonce) and
// returns plaintext. If KeyWrapper is nil, returns wrapped unchanged.
func (k *KeyWrapper) Unwrap(wrapped string) (string, error) {
	if k == nil {
		return wrapped, nil
	}

	data, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}

	nonceSize := k.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("wrapped value too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := k.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("unwrapping: %w", err)
	}

	return string(plaintext), nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaPub, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}

// GenerateKeyPair creates a fresh 2048-bit RSA keypair and returns it as
// PKIX/PKCS#1 PEM blocks. Used by the keygen command.
func GenerateKeyPair() (pubPEM, privPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generating RSA key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling public key: %w", err)
	}

	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return pubPEM, privPEM, nil
}

// GenerateSecret returns a hex-encoded random secret of n bytes.
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
