package ratelimit

import (
	"sync"
	"testing"
	"time"
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

// newTestLimiter creates a Limiter wired to the given fake clock.
func newTestLimiter(rate int, window time.Duration, clock *fakeClock) *Limiter {
	l := New(rate, window)
	l.now = clock.Now
	return l
}

func TestConsumeBasic(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		if ok, _ := l.Consume("agent-1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, retryAfter := l.Consume("agent-1")
	if ok {
		t.Fatal("4th request should be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("denial should carry a positive retry-after, got %v", retryAfter)
	}
}

func TestConsumeDifferentAgents(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(1, time.Minute, clock)

	if ok, _ := l.Consume("a"); !ok {
		t.Fatal("first request for agent 'a' should be allowed")
	}
	if ok, _ := l.Consume("a"); ok {
		t.Fatal("second request for agent 'a' should be denied")
	}
	// A different agent gets its own bucket.
	if ok, _ := l.Consume("b"); !ok {
		t.Fatal("first request for agent 'b' should be allowed")
	}
}

func TestTokenRefill(t *testing.T) {
	clock := newFakeClock(time.Now())
	// 60 tokens per minute = 1 token per second.
	l := newTestLimiter(60, time.Minute, clock)

	// Exhaust all tokens.
	for i := 0; i < 60; i++ {
		l.Consume("k")
	}
	if ok, _ := l.Consume("k"); ok {
		t.Fatal("should be denied after exhausting tokens")
	}

	// Advance 1 second -> 1 token refilled.
	clock.Advance(1 * time.Second)
	if ok, _ := l.Consume("k"); !ok {
		t.Fatal("should be allowed after 1 second refill")
	}
	if ok, _ := l.Consume("k"); ok {
		t.Fatal("should be denied again after consuming refilled token")
	}

	// Advance 5 seconds -> 5 tokens.
	clock.Advance(5 * time.Second)
	for i := 0; i < 5; i++ {
		if ok, _ := l.Consume("k"); !ok {
			t.Fatalf("request %d should be allowed after 5s refill", i+1)
		}
	}
	if ok, _ := l.Consume("k"); ok {
		t.Fatal("should be denied after consuming 5 refilled tokens")
	}
}

func TestTokenRefillCap(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(5, time.Minute, clock)

	// Use 2 tokens.
	l.Consume("k")
	l.Consume("k")

	// Advance a very long time; tokens should cap at rate.
	clock.Advance(10 * time.Minute)

	_, remaining, _ := l.Status("k")
	if remaining != 5 {
		t.Fatalf("remaining should cap at 5, got %d", remaining)
	}
}

func TestRetryAfterMatchesRefillRate(t *testing.T) {
	clock := newFakeClock(time.Now())
	// 6 tokens per minute = 1 token per 10 seconds.
	l := newTestLimiter(6, time.Minute, clock)

	for i := 0; i < 6; i++ {
		l.Consume("k")
	}
	_, retryAfter := l.Consume("k")
	if retryAfter != 10*time.Second {
		t.Fatalf("expected 10s retry-after, got %v", retryAfter)
	}

	// Partially refilled bucket shortens the wait but never below a second.
	clock.Advance(5 * time.Second)
	_, retryAfter = l.Consume("k")
	if retryAfter != 5*time.Second {
		t.Fatalf("expected 5s retry-after after partial refill, got %v", retryAfter)
	}
}

func TestRetryAfterFloor(t *testing.T) {
	clock := newFakeClock(time.Now())
	// Very fast refill: 600/minute = 10 per second.
	l := newTestLimiter(600, time.Minute, clock)

	for i := 0; i < 600; i++ {
		l.Consume("k")
	}
	_, retryAfter := l.Consume("k")
	if retryAfter != time.Second {
		t.Fatalf("retry-after should floor at 1s, got %v", retryAfter)
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(100, time.Minute, clock)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := l.Consume("concurrent")
			allowed <- ok
		}()
	}

	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}

	if count != 100 {
		t.Fatalf("expected exactly 100 allowed, got %d", count)
	}
}

func TestStatus(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(10, time.Minute, clock)

	// Fresh bucket.
	limit, remaining, _ := l.Status("s")
	if limit != 10 {
		t.Fatalf("expected limit 10, got %d", limit)
	}
	if remaining != 10 {
		t.Fatalf("expected remaining 10, got %d", remaining)
	}

	// Consume 3 tokens.
	l.Consume("s")
	l.Consume("s")
	l.Consume("s")

	limit, remaining, resetAt := l.Status("s")
	if limit != 10 {
		t.Fatalf("expected limit 10, got %d", limit)
	}
	if remaining != 7 {
		t.Fatalf("expected remaining 7, got %d", remaining)
	}

	// Reset time should be in the future (about 18 seconds for 3 tokens at
	// 10/min = 1 token per 6 seconds).
	now := clock.Now()
	if !resetAt.After(now) {
		t.Fatalf("resetAt %v should be after now %v", resetAt, now)
	}
}

func TestStatusFullBucketResetIsNow(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(5, time.Minute, clock)

	_, _, resetAt := l.Status("full")
	now := clock.Now()

	if resetAt != now {
		t.Fatalf("full bucket resetAt should equal now, got diff %v", resetAt.Sub(now))
	}
}
