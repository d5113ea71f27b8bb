package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheFromClient(client), mr
}

func TestRedisCacheRoundtrip(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()
	key := CacheKey("http", "get", map[string]any{"url": "https://x"})

	if _, hit, err := cache.Get(ctx, key); err != nil || hit {
		t.Fatalf("empty cache: hit=%v err=%v", hit, err)
	}

	if err := cache.Set(ctx, key, []byte(`{"ok":true}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, hit, err := cache.Get(ctx, key)
	if err != nil || !hit {
		t.Fatalf("Get after Set: hit=%v err=%v", hit, err)
	}
	if string(val) != `{"ok":true}` {
		t.Errorf("value = %s", val)
	}
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, hit, err := cache.Get(ctx, "k"); err != nil || hit {
		t.Errorf("expired entry must miss: hit=%v err=%v", hit, err)
	}
}

func TestRedisCacheDownDegradesExecutor(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	mr.Close()

	if _, _, err := cache.Get(context.Background(), "k"); err == nil {
		t.Error("expected an error from a dead redis")
	}
	// The executor turns that error into a miss; covered in executor tests
	// via failingCache.
}
