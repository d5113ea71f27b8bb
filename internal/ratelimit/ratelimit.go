// Package ratelimit admits or rejects requests per agent using a token
// bucket. It protects the gateway itself and is independent of policy quotas,
// which express business limits.
package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the token state for a single agent.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter implements a token-bucket rate limiter keyed by agent ID. Every
// agent gets rate tokens per window; tokens refill continuously.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows rate requests per window per agent.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// getBucket returns the bucket for agentID, creating a full one if it doesn't
// exist. Must be called with l.mu held.
func (l *Limiter) getBucket(agentID string) *bucket {
	b, ok := l.buckets[agentID]
	if !ok {
		b = &bucket{
			tokens:     float64(l.rate),
			lastRefill: l.now(),
		}
		l.buckets[agentID] = b
	}
	return b
}

// refill adds tokens to the bucket based on elapsed time since the last
// refill. Must be called with l.mu held.
func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	// Tokens accumulate at rate/window per second.
	b.tokens += elapsed * l.refillRate()
	if b.tokens > float64(l.rate) {
		b.tokens = float64(l.rate)
	}
	b.lastRefill = now
}

func (l *Limiter) refillRate() float64 {
	return float64(l.rate) / l.window.Seconds()
}

// Consume takes one token from the agent's bucket. When the bucket is empty
// it returns false and the duration until the next token refills, suitable
// for a Retry-After hint.
func (l *Limiter) Consume(agentID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(agentID)
	l.refill(b)

	if b.tokens < 1 {
		deficit := 1 - b.tokens
		retryAfter := time.Duration(deficit / l.refillRate() * float64(time.Second))
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}
	b.tokens--
	return true, 0
}

// Status returns the agent's current limit state: the bucket size, tokens
// remaining (floored to int), and the time at which the bucket will be full
// again.
func (l *Limiter) Status(agentID string) (limit int, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(agentID)
	l.refill(b)

	limit = l.rate
	remaining = int(b.tokens)
	if remaining < 0 {
		remaining = 0
	}

	// Time until full replenishment from current level.
	deficit := float64(l.rate) - b.tokens
	if deficit <= 0 {
		resetAt = l.now()
	} else {
		resetAt = l.now().Add(time.Duration(deficit / l.refillRate() * float64(time.Second)))
	}
	return
}
