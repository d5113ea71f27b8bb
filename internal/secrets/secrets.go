// Package secrets resolves upstream tool credentials. Providers share one
// contract: Get returns the credential for a tool or ErrNotFound.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/4runr/gateway/internal/crypto"
)

// ErrNotFound is returned when no credential is configured for a tool.
var ErrNotFound = errors.New("credential not found")

// Provider resolves the credential for a tool.
type Provider interface {
	Get(ctx context.Context, tool string) (string, error)
}

// EnvProvider reads credentials from GATEWAY_CRED_<TOOL> environment
// variables, e.g. GATEWAY_CRED_SEARCH for the "search" tool.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Get(_ context.Context, tool string) (string, error) {
	name := "GATEWAY_CRED_" + strings.ToUpper(strings.ReplaceAll(tool, "-", "_"))
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("%w: no %s set for tool %q", ErrNotFound, name, tool)
	}
	return v, nil
}

// WrappedStoreProvider serves credentials that are stored wrapped (encrypted
// at rest) and unwraps them on demand. The wrapped values typically come from
// config or a database column.
type WrappedStoreProvider struct {
	wrapper crypto.Wrapper

	mu      sync.RWMutex
	wrapped map[string]string
}

func NewWrappedStoreProvider(wrapper crypto.Wrapper, wrapped map[string]string) *WrappedStoreProvider {
	store := make(map[string]string, len(wrapped))
	for k, v := range wrapped {
		store[k] = v
	}
	return &WrappedStoreProvider{wrapper: wrapper, wrapped: store}
}

func (p *WrappedStoreProvider) Get(_ context.Context, tool string) (string, error) {
	p.mu.RLock()
	wrapped, ok := p.wrapped[tool]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: tool %q", ErrNotFound, tool)
	}
	cred, err := p.wrapper.Unwrap(wrapped)
	if err != nil {
		return "", fmt.Errorf("unwrap credential for tool %q: %w", tool, err)
	}
	return cred, nil
}

// Set stores a wrapped credential for a tool.
func (p *WrappedStoreProvider) Set(tool, plaintext string) error {
	wrapped, err := p.wrapper.Wrap(plaintext)
	if err != nil {
		return fmt.Errorf("wrap credential for tool %q: %w", tool, err)
	}
	p.mu.Lock()
	p.wrapped[tool] = wrapped
	p.mu.Unlock()
	return nil
}

// Static is a fixed in-memory provider, used in tests and local setups.
type Static map[string]string

func (s Static) Get(_ context.Context, tool string) (string, error) {
	v, ok := s[tool]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: tool %q", ErrNotFound, tool)
	}
	return v, nil
}

// Cached wraps a Provider with a TTL cache so hot tools don't hammer a remote
// secret store. Negative results are not cached.
type Cached struct {
	inner Provider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

func NewCached(inner Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) Get(ctx context.Context, tool string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[tool]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.value, nil
	}

	v, err := c.inner.Get(ctx, tool)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[tool] = cacheEntry{value: v, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops a tool's cached credential, forcing a refetch.
func (c *Cached) Invalidate(tool string) {
	c.mu.Lock()
	delete(c.entries, tool)
	c.mu.Unlock()
}
