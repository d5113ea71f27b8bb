package resilience

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if val, hit, _ := c.Get(ctx, "k"); !hit || string(val) != "v" {
		t.Fatalf("fresh entry should hit, got hit=%v val=%s", hit, val)
	}

	now = now.Add(2 * time.Minute)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("expired entry must miss")
	}
	// Expired entries are dropped on read.
	c.mu.RLock()
	_, still := c.entries["k"]
	c.mu.RUnlock()
	if still {
		t.Error("expired entry should be evicted")
	}
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), time.Minute)
	c.Set(ctx, "k", []byte("new"), time.Minute)

	val, hit, _ := c.Get(ctx, "k")
	if !hit || string(val) != "new" {
		t.Errorf("last write should win, got hit=%v val=%s", hit, val)
	}
}
