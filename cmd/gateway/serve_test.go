package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/4runr/gateway/internal/config"
	"github.com/4runr/gateway/internal/crypto"
	"github.com/4runr/gateway/internal/secrets"
)

const testCredentialKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestBuildSecretsProviderWrapped(t *testing.T) {
	wrapper, err := crypto.NewKeyWrapper(testCredentialKey)
	if err != nil {
		t.Fatalf("NewKeyWrapper: %v", err)
	}
	wrapped, err := wrapper.Wrap("serp-key-123")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	cfg := &config.Config{}
	cfg.Token.CredentialKey = testCredentialKey
	cfg.Secrets.Provider = "wrapped"
	cfg.Secrets.Wrapped = map[string]string{"search": wrapped}

	provider, err := buildSecretsProvider(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("buildSecretsProvider: %v", err)
	}

	got, err := provider.Get(context.Background(), "search")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "serp-key-123" {
		t.Errorf("unwrapped credential = %q, want %q", got, "serp-key-123")
	}

	if _, err := provider.Get(context.Background(), "mail"); !errors.Is(err, secrets.ErrNotFound) {
		t.Errorf("unconfigured tool should be ErrNotFound, got %v", err)
	}
}

func TestBuildSecretsProviderWrappedRequiresKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Secrets.Provider = "wrapped"

	_, err := buildSecretsProvider(context.Background(), cfg, slog.Default())
	if err == nil || !strings.Contains(err.Error(), "credential_key") {
		t.Fatalf("missing credential key must fail loudly, got %v", err)
	}
}

func TestBuildSecretsProviderUnknown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Secrets.Provider = "vault"

	if _, err := buildSecretsProvider(context.Background(), cfg, slog.Default()); err == nil {
		t.Fatal("unknown provider must error")
	}
}
