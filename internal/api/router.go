package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/4runr/gateway/internal/agent"
	"github.com/4runr/gateway/internal/metrics"
	"github.com/4runr/gateway/internal/policy"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Gateway         Proxier
	Issuer          TokenIssuer
	Revoker         TokenRevoker
	AgentStore      agent.Store
	PolicyStore     policy.Store
	Metrics         *metrics.Metrics
	AdminKey        string
	TokenDefaultTTL time.Duration
	TokenMaxTTL     time.Duration
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(slogRequestLogger)

	// Handlers.
	var tokenMetrics TokenMetrics
	if deps.Metrics != nil {
		tokenMetrics = deps.Metrics
	}
	tokens := newTokensHandler(deps.Issuer, deps.Revoker, deps.AgentStore, tokenMetrics, deps.TokenDefaultTTL, deps.TokenMaxTTL)
	proxy := newProxyHandler(deps.Gateway)
	agents := newAgentsHandler(deps.AgentStore)
	policies := newPoliciesHandler(deps.PolicyStore)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Well-known manifest.
	r.Get("/.well-known/gateway.json", WellKnownHandler)

	// Prometheus exposition.
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(ar chi.Router) {
		// Token-authed surface. The token itself rides in the body; the
		// pipeline authenticates every call.
		ar.Post("/generate-token", tokens.GenerateToken)
		ar.Post("/proxy-request", proxy.ProxyRequest)

		if deps.Metrics != nil {
			ar.Get("/metrics-summary", deps.Metrics.Handler())
		}

		// Admin routes (require admin key).
		ar.Group(func(admin chi.Router) {
			admin.Use(adminAuth(deps.AdminKey))

			admin.Post("/tokens/revoke", tokens.RevokeToken)

			admin.Post("/agents", agents.CreateAgent)
			admin.Get("/agents", agents.ListAgents)
			admin.Get("/agents/{id}", agents.GetAgent)
			admin.Put("/agents/{id}/status", agents.SetAgentStatus)

			admin.Post("/policies", policies.CreatePolicy)
			admin.Get("/policies/{id}", policies.GetPolicy)
			admin.Put("/policies/{id}/active", policies.SetPolicyActive)
		})
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
