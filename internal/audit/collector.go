package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter is the interface used by Collector to persist log rows.
// It exists to allow testing without a real database.
type BatchInserter interface {
	InsertRequestLogs(ctx context.Context, logs []RequestLog) error
	InsertPolicyLogs(ctx context.Context, logs []PolicyLog) error
}

// CollectorMetrics receives collector health signals; implemented by the
// metrics package.
type CollectorMetrics interface {
	SetCollectorBufferSize(n int)
	IncCollectorFlush(status string)
	ObserveCollectorFlushDuration(seconds float64)
	IncCollectorLogs()
}

// Collector buffers audit rows in memory and periodically flushes them to
// the store in batches. Writes are fire-and-forget: a flush failure is
// logged and the rows are dropped, never surfaced to the request path.
// It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	mu            sync.Mutex
	requests      []RequestLog
	policies      []PolicyLog
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	metrics       CollectorMetrics
}

// NewCollector creates a Collector that flushes to the given store when a
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	return &Collector{
		store:         store,
		requests:      make([]RequestLog, 0, batchSize),
		policies:      make([]PolicyLog, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// SetMetrics attaches an optional metrics recorder. Call before Start.
func (c *Collector) SetMetrics(m CollectorMetrics) {
	c.metrics = m
}

// Start begins a background goroutine that flushes buffered rows on a timer.
// It blocks until Stop is called or the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// RecordRequest adds a request log row to the buffer.
func (c *Collector) RecordRequest(l RequestLog) {
	c.mu.Lock()
	c.requests = append(c.requests, l)
	shouldFlush := len(c.requests) >= c.batchSize
	buffered := len(c.requests) + len(c.policies)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncCollectorLogs()
		c.metrics.SetCollectorBufferSize(buffered)
	}
	if shouldFlush {
		c.flush()
	}
}

// RecordPolicy adds a policy evaluation row to the buffer.
func (c *Collector) RecordPolicy(l PolicyLog) {
	c.mu.Lock()
	c.policies = append(c.policies, l)
	shouldFlush := len(c.policies) >= c.batchSize
	buffered := len(c.requests) + len(c.policies)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncCollectorLogs()
		c.metrics.SetCollectorBufferSize(buffered)
	}
	if shouldFlush {
		c.flush()
	}
}

// flush drains both buffers and writes them to the store. Errors are logged
// rather than returned so callers are never blocked or failed.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.requests) == 0 && len(c.policies) == 0 {
		c.mu.Unlock()
		return
	}
	reqBatch := c.requests
	polBatch := c.policies
	c.requests = make([]RequestLog, 0, c.batchSize)
	c.policies = make([]PolicyLog, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	status := "ok"
	if len(reqBatch) > 0 {
		if err := c.store.InsertRequestLogs(ctx, reqBatch); err != nil {
			status = "error"
			slog.Error("failed to flush request logs", "count", len(reqBatch), "error", err)
		}
	}
	if len(polBatch) > 0 {
		if err := c.store.InsertPolicyLogs(ctx, polBatch); err != nil {
			status = "error"
			slog.Error("failed to flush policy logs", "count", len(polBatch), "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.IncCollectorFlush(status)
		c.metrics.ObserveCollectorFlushDuration(time.Since(start).Seconds())
		c.metrics.SetCollectorBufferSize(0)
	}
}

// Stop signals the background goroutine to exit and performs a final flush.
func (c *Collector) Stop() {
	close(c.done)
}
