package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/4runr/gateway/internal/tools"
)

// transienter is satisfied by upstream errors that know whether they are
// worth retrying.
type transienter interface {
	Transient() bool
}

// IsTransient classifies an error for retry and breaker accounting.
func IsTransient(err error) bool {
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryConfig bounds the retry loop around one upstream call.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Observer receives resilience events; implemented by the metrics layer.
type Observer interface {
	CacheHit(tool string)
	CacheMiss(tool string)
	RetryAttempt(tool string)
	BreakerTransition(tool, state string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)                  {}
func (nopObserver) CacheMiss(string)                 {}
func (nopObserver) RetryAttempt(string)              {}
func (nopObserver) BreakerTransition(string, string) {}

// Executor composes cache, circuit breaker and retry around adapter calls, in
// that order: a cache hit touches neither the breaker nor the retry loop.
type Executor struct {
	cache           Cache
	cacheTTL        time.Duration
	breakers        *BreakerSet
	retry           RetryConfig
	upstreamTimeout time.Duration
	logger          *slog.Logger
	observer        Observer

	mu   sync.Mutex
	rand *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures an Executor. Cache may be nil to disable caching.
type Options struct {
	Cache           Cache
	CacheTTL        time.Duration
	Breakers        *BreakerSet
	Retry           RetryConfig
	UpstreamTimeout time.Duration
	Logger          *slog.Logger
	Observer        Observer
}

func NewExecutor(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = NewBreakerSet(5, 30*time.Second)
	}
	breakers.OnTransition(observer.BreakerTransition)

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := opts.Retry
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 10 * time.Second
	}

	return &Executor{
		cache:           opts.Cache,
		cacheTTL:        cacheTTL,
		breakers:        breakers,
		retry:           retry,
		upstreamTimeout: timeout,
		logger:          logger,
		observer:        observer,
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:           sleepCtx,
	}
}

// Result is the outcome of an upstream execution.
type Result struct {
	Value  any
	Cached bool
}

// Execute runs one action against the adapter with the full resilience stack.
// Only actions the adapter declares idempotent go through the cache.
func (e *Executor) Execute(ctx context.Context, adapter tools.Adapter, action string, params map[string]any) (*Result, error) {
	tool := adapter.Name()
	cacheable := e.cache != nil && adapter.Idempotent(action)
	var key string

	if cacheable {
		key = CacheKey(tool, action, params)
		raw, hit, err := e.cache.Get(ctx, key)
		if err != nil {
			// Cache trouble degrades to a miss.
			e.logger.Warn("cache read failed", "tool", tool, "error", err)
		} else if hit {
			var value any
			if err := json.Unmarshal(raw, &value); err == nil {
				e.observer.CacheHit(tool)
				return &Result{Value: value, Cached: true}, nil
			}
			e.logger.Warn("cache entry corrupt, treating as miss", "tool", tool)
		}
		e.observer.CacheMiss(tool)
	}

	if err := e.breakers.Allow(tool); err != nil {
		return nil, err
	}

	value, err := e.callWithRetry(ctx, adapter, action, params)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if raw, err := json.Marshal(value); err == nil {
			if err := e.cache.Set(ctx, key, raw, e.cacheTTL); err != nil {
				e.logger.Warn("cache write failed", "tool", tool, "error", err)
			}
		}
	}
	return &Result{Value: value}, nil
}

// callWithRetry drives the bounded retry loop. Transient failures count
// toward the breaker; business errors surface immediately and leave the
// breaker untouched.
func (e *Executor) callWithRetry(ctx context.Context, adapter tools.Adapter, action string, params map[string]any) (any, error) {
	tool := adapter.Name()
	var lastErr error

	for attempt := 0; attempt <= e.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			e.observer.RetryAttempt(tool)
			if err := e.sleep(ctx, e.backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}

		value, err := e.callUpstream(ctx, adapter, action, params)
		if err == nil {
			e.breakers.Success(tool)
			return value, nil
		}
		if errors.Is(err, context.Canceled) {
			// Caller went away; not an upstream verdict.
			return nil, err
		}
		if !IsTransient(err) {
			return nil, err
		}

		lastErr = err
		e.breakers.Failure(tool)
		if e.breakers.State(tool) != StateClosed {
			// The circuit tripped (or a probe failed); stop hammering.
			break
		}
		e.logger.Debug("transient upstream failure",
			"tool", tool, "action", action, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// callUpstream runs the adapter under the per-call timeout. The call is
// detached from the caller's cancellation: if the caller disconnects
// mid-flight the upstream call finishes on its own timeout and the result is
// discarded, so external side effects are not orphaned halfway.
func (e *Executor) callUpstream(ctx context.Context, adapter tools.Adapter, action string, params map[string]any) (any, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.upstreamTimeout)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		value, err := adapter.Execute(callCtx, action, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// backoffDelay computes the exponential backoff for attempt n (1-based) with
// ±25% jitter and a hard cap.
func (e *Executor) backoffDelay(attempt int) time.Duration {
	d := e.retry.BaseDelay << (attempt - 1)
	if d > e.retry.MaxDelay {
		d = e.retry.MaxDelay
	}
	e.mu.Lock()
	jitter := 0.75 + e.rand.Float64()*0.5
	e.mu.Unlock()
	d = time.Duration(float64(d) * jitter)
	if d > e.retry.MaxDelay {
		d = e.retry.MaxDelay
	}
	return d
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BreakerState exposes the current circuit state for a tool, for health
// reporting.
func (e *Executor) BreakerState(tool string) string {
	return e.breakers.State(tool)
}
