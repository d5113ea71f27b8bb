package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// breaker state encoding for the gauge: closed=0, open=1, half_open=2.
var breakerStateValues = map[string]float64{
	"closed":    0,
	"open":      1,
	"half_open": 2,
}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics.
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	StageOutcomesTotal *prometheus.CounterVec
	ActiveRequests     prometheus.Gauge

	// Resilience metrics.
	CacheEventsTotal    *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	UpstreamErrorsTotal *prometheus.CounterVec

	// Admission metrics.
	RateLimitRejectionsTotal prometheus.Counter
	QuotaRejectionsTotal     prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	TokensIssuedTotal  prometheus.Counter
	TokensRevokedTotal prometheus.Counter

	// Audit collector metrics.
	CollectorBufferSize    prometheus.Gauge
	CollectorFlushesTotal  *prometheus.CounterVec
	CollectorFlushDuration prometheus.Histogram
	CollectorLogsTotal     prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of proxied requests by terminal outcome.",
		}, []string{"tool", "action", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),

		StageOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_stage_outcomes_total",
			Help: "Pipeline stage outcomes.",
		}, []string{"stage", "outcome"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "Number of requests currently in the pipeline.",
		}),

		CacheEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_events_total",
			Help: "Read-through cache hits and misses.",
		}, []string{"tool", "event"}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_retries_total",
			Help: "Total number of upstream retry attempts.",
		}, []string{"tool"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state per tool (0=closed, 1=open, 2=half_open).",
		}, []string{"tool"}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Total number of upstream errors by classification.",
		}, []string{"tool", "kind"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejections_total",
			Help: "Total number of per-agent rate limit rejections.",
		}),

		QuotaRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_quota_rejections_total",
			Help: "Total number of policy quota rejections.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of token verification failures.",
		}, []string{"kind"}),

		TokensIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tokens_issued_total",
			Help: "Total number of tokens issued.",
		}),

		TokensRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tokens_revoked_total",
			Help: "Total number of tokens revoked.",
		}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_collector_buffer_size",
			Help: "Current number of buffered audit rows.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_collector_flushes_total",
			Help: "Total number of audit collector flushes.",
		}, []string{"status"}),

		CollectorFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_collector_flush_duration_seconds",
			Help:    "Duration of audit collector flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		CollectorLogsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_collector_logs_total",
			Help: "Total number of audit rows recorded.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RequestsTotal,
		m.RequestDuration,
		m.StageOutcomesTotal,
		m.ActiveRequests,
		m.CacheEventsTotal,
		m.RetriesTotal,
		m.BreakerState,
		m.UpstreamErrorsTotal,
		m.RateLimitRejectionsTotal,
		m.QuotaRejectionsTotal,
		m.AuthFailuresTotal,
		m.TokensIssuedTotal,
		m.TokensRevokedTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorFlushDuration,
		m.CollectorLogsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncRequest records one terminal pipeline outcome.
func (m *Metrics) IncRequest(tool, action string, statusCode int) {
	m.RequestsTotal.WithLabelValues(tool, action, strconv.Itoa(statusCode)).Inc()
}

// ObserveRequestDuration records the end-to-end pipeline duration.
func (m *Metrics) ObserveRequestDuration(tool string, seconds float64) {
	m.RequestDuration.WithLabelValues(tool).Observe(seconds)
}

// IncStageOutcome counts one stage result, e.g. ("policy", "deny").
func (m *Metrics) IncStageOutcome(stage, outcome string) {
	m.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
}

// IncActiveRequests increments the in-flight request gauge.
func (m *Metrics) IncActiveRequests() { m.ActiveRequests.Inc() }

// DecActiveRequests decrements the in-flight request gauge.
func (m *Metrics) DecActiveRequests() { m.ActiveRequests.Dec() }

// IncAuthFailure counts a token verification failure by kind.
func (m *Metrics) IncAuthFailure(kind string) {
	m.AuthFailuresTotal.WithLabelValues(kind).Inc()
}

// IncRateLimitRejection counts a per-agent admission rejection.
func (m *Metrics) IncRateLimitRejection() { m.RateLimitRejectionsTotal.Inc() }

// IncQuotaRejection counts a policy quota denial.
func (m *Metrics) IncQuotaRejection() { m.QuotaRejectionsTotal.Inc() }

// IncUpstreamError counts an upstream failure by classification.
func (m *Metrics) IncUpstreamError(tool, kind string) {
	m.UpstreamErrorsTotal.WithLabelValues(tool, kind).Inc()
}

// CacheHit implements the resilience observer contract.
func (m *Metrics) CacheHit(tool string) {
	m.CacheEventsTotal.WithLabelValues(tool, "hit").Inc()
}

// CacheMiss implements the resilience observer contract.
func (m *Metrics) CacheMiss(tool string) {
	m.CacheEventsTotal.WithLabelValues(tool, "miss").Inc()
}

// RetryAttempt implements the resilience observer contract.
func (m *Metrics) RetryAttempt(tool string) {
	m.RetriesTotal.WithLabelValues(tool).Inc()
}

// BreakerTransition implements the resilience observer contract.
func (m *Metrics) BreakerTransition(tool, state string) {
	m.BreakerState.WithLabelValues(tool).Set(breakerStateValues[state])
}

// SetCollectorBufferSize implements the audit collector metrics contract.
func (m *Metrics) SetCollectorBufferSize(n int) {
	m.CollectorBufferSize.Set(float64(n))
}

// IncCollectorFlush counts one flush by status ("ok" or "error").
func (m *Metrics) IncCollectorFlush(status string) {
	m.CollectorFlushesTotal.WithLabelValues(status).Inc()
}

// ObserveCollectorFlushDuration records one flush duration.
func (m *Metrics) ObserveCollectorFlushDuration(seconds float64) {
	m.CollectorFlushDuration.Observe(seconds)
}

// IncCollectorLogs counts audit rows accepted into the buffer.
func (m *Metrics) IncCollectorLogs() { m.CollectorLogsTotal.Inc() }

// IncTokenIssued counts one successful token issuance.
func (m *Metrics) IncTokenIssued() { m.TokensIssuedTotal.Inc() }

// IncTokenRevoked counts one token revocation.
func (m *Metrics) IncTokenRevoked() { m.TokensRevokedTotal.Inc() }
