// Package resilience wraps upstream tool calls with a read-through cache, a
// per-tool circuit breaker and bounded retries.
package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Cache stores serialized upstream results for idempotent actions. A miss is
// (nil, false, nil); errors are degraded to misses by the executor.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CacheKey derives a deterministic key from the call signature. Marshaling
// params through encoding/json gives stable key ordering for maps, so
// identical inputs always hash identically.
func CacheKey(tool, action string, params map[string]any) string {
	buf, _ := json.Marshal(params)
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write(buf)
	return "gw:cache:" + hex.EncodeToString(h.Sum(nil))
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache with TTL expiry. Expired entries are
// dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
