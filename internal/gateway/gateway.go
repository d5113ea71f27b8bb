// Package gateway sequences the full request pipeline: provenance and
// signature checks, agent lookup, policy evaluation, parameter validation,
// admission control and resilience-wrapped execution, with an audit row
// written for every terminal outcome.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/4runr/gateway/internal/agent"
	"github.com/4runr/gateway/internal/audit"
	"github.com/4runr/gateway/internal/policy"
	"github.com/4runr/gateway/internal/resilience"
	"github.com/4runr/gateway/internal/token"
	"github.com/4runr/gateway/internal/tools"
	"github.com/4runr/gateway/internal/validate"
)

// TokenVerifier checks the wire token and reports rotation advice.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*token.Verification, error)
}

// ProofChecker authenticates token provenance as a second factor.
type ProofChecker interface {
	CheckProof(ctx context.Context, tokenID string, proofPayload []byte) error
}

// AgentStore looks up the calling agent.
type AgentStore interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
}

// PolicyEvaluator decides whether the call is permitted.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, agentID, role, tool, action string, params map[string]any) (*policy.Decision, error)
}

// Validator checks per-tool parameter rules.
type Validator interface {
	Validate(ctx context.Context, tool, action string, params map[string]any) validate.Result
}

// RateLimiter admits or rejects a request for an agent.
type RateLimiter interface {
	Consume(agentID string) (bool, time.Duration)
}

// Executor runs the upstream call with the resilience stack.
type Executor interface {
	Execute(ctx context.Context, adapter tools.Adapter, action string, params map[string]any) (*resilience.Result, error)
}

// AuditRecorder receives one row per terminal outcome, fire-and-forget.
type AuditRecorder interface {
	RecordRequest(l audit.RequestLog)
}

// MetricsRecorder is the slice of the metrics surface the pipeline uses.
type MetricsRecorder interface {
	IncRequest(tool, action string, statusCode int)
	ObserveRequestDuration(tool string, seconds float64)
	IncStageOutcome(stage, outcome string)
	IncActiveRequests()
	DecActiveRequests()
	IncAuthFailure(kind string)
	IncRateLimitRejection()
	IncQuotaRejection()
	IncUpstreamError(tool, kind string)
}

// Request is one proxy call through the pipeline.
type Request struct {
	CorrID       string
	AgentToken   string
	TokenID      string
	ProofPayload []byte
	Tool         string
	Action       string
	Params       map[string]any
	// Intent is free-form caller context; it is logged, never evaluated.
	Intent string
}

// Metadata describes the request a successful response answered.
type Metadata struct {
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
	Tool           string `json:"tool"`
	Action         string `json:"action"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// Response is the successful pipeline result.
type Response struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`

	CorrID              string    `json:"-"`
	Cached              bool      `json:"-"`
	RotationRecommended bool      `json:"-"`
	TokenExpiresAt      time.Time `json:"-"`
}

// Gateway wires the pipeline stages together.
type Gateway struct {
	tokens   TokenVerifier
	proofs   ProofChecker
	agents   AgentStore
	policies PolicyEvaluator
	params   Validator
	limiter  RateLimiter
	adapters *tools.Registry
	executor Executor
	auditor  AuditRecorder
	monitor  Monitor
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// Options collects the Gateway collaborators. Monitor and Metrics may be nil.
type Options struct {
	Tokens   TokenVerifier
	Proofs   ProofChecker
	Agents   AgentStore
	Policies PolicyEvaluator
	Params   Validator
	Limiter  RateLimiter
	Adapters *tools.Registry
	Executor Executor
	Auditor  AuditRecorder
	Monitor  Monitor
	Metrics  MetricsRecorder
	Logger   *slog.Logger
}

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = nopMonitor{}
	}
	return &Gateway{
		tokens:   opts.Tokens,
		proofs:   opts.Proofs,
		agents:   opts.Agents,
		policies: opts.Policies,
		params:   opts.Params,
		limiter:  opts.Limiter,
		adapters: opts.Adapters,
		executor: opts.Executor,
		auditor:  opts.Auditor,
		monitor:  monitor,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Proxy runs one request through the pipeline. Any stage failure
// short-circuits the remaining stages; every terminal path, success or not,
// still gets an audit row.
func (g *Gateway) Proxy(ctx context.Context, req Request) (*Response, *Error) {
	start := g.now()
	corrID := req.CorrID
	if corrID == "" {
		corrID = newCorrID(start)
	}
	log := g.logger.With("corr_id", corrID, "tool", req.Tool, "action", req.Action)

	if g.metrics != nil {
		g.metrics.IncActiveRequests()
		defer g.metrics.DecActiveRequests()
	}

	agentID := ""
	finish := func(statusCode int, failure *Error) {
		elapsed := g.now().Sub(start)
		errMsg := ""
		if failure != nil {
			errMsg = failure.Message
		}
		g.writeAudit(audit.RequestLog{
			CorrID:         corrID,
			AgentID:        agentID,
			Tool:           req.Tool,
			Action:         req.Action,
			ResponseTimeMs: elapsed.Milliseconds(),
			StatusCode:     statusCode,
			Success:        failure == nil,
			ErrorMessage:   errMsg,
		})
		if g.metrics != nil {
			g.metrics.IncRequest(req.Tool, req.Action, statusCode)
			g.metrics.ObserveRequestDuration(req.Tool, elapsed.Seconds())
		}
	}
	fail := func(stage string, e *Error) (*Response, *Error) {
		if g.metrics != nil {
			g.metrics.IncStageOutcome(stage, string(e.Kind))
		}
		log.Info("request rejected", "stage", stage, "kind", e.Kind, "reason", e.Message)
		finish(e.HTTPStatus(), e)
		return nil, e
	}

	// (1) Structural validation.
	if req.Tool == "" || req.Action == "" || req.AgentToken == "" {
		return fail("structure", &Error{Kind: KindBadRequest, Message: "agent_token, tool and action are required"})
	}

	// (2) Optional provenance check, a second factor on top of the
	// signature.
	if req.TokenID != "" && len(req.ProofPayload) > 0 {
		if err := g.proofs.CheckProof(ctx, req.TokenID, req.ProofPayload); err != nil {
			if g.metrics != nil {
				g.metrics.IncAuthFailure(authFailureKind(err))
			}
			return fail("provenance", &Error{Kind: KindAuth, Message: err.Error()})
		}
	}

	// (3)+(4) Signature verification, decryption, expiry.
	verification, err := g.tokens.Verify(ctx, req.AgentToken)
	if err != nil {
		if g.metrics != nil {
			g.metrics.IncAuthFailure(authFailureKind(err))
		}
		return fail("token", &Error{Kind: KindAuth, Message: err.Error()})
	}
	payload := verification.Payload
	agentID = payload.AgentID
	log = log.With("agent_id", agentID)

	if !payload.AllowsTool(req.Tool) {
		if g.metrics != nil {
			g.metrics.IncAuthFailure("scope")
		}
		return fail("token", &Error{Kind: KindAuth, Message: "token does not grant access to tool " + req.Tool})
	}

	// (5) Agent lookup and status check. An unknown agent is an auth
	// failure, not a 404: the pipeline fails closed.
	ag, err := g.agents.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			return fail("agent", &Error{Kind: KindAuth, Message: "unknown agent"})
		}
		return fail("agent", &Error{Kind: KindInternal, Message: "agent lookup failed"})
	}
	if !ag.Active() {
		return fail("agent", &Error{Kind: KindAuth, Message: "agent is inactive"})
	}

	// (6) Policy evaluation.
	decision, err := g.policies.Evaluate(ctx, ag.ID, ag.Role, req.Tool, req.Action, req.Params)
	if err != nil {
		return fail("policy", &Error{Kind: KindInternal, Message: "policy evaluation failed"})
	}
	if !decision.Allowed {
		if g.metrics != nil && decision.QuotaExceeded {
			g.metrics.IncQuotaRejection()
		}
		return fail("policy", &Error{Kind: KindPolicyDeny, Message: decision.Reason})
	}

	// (7) Parameter validation. Failures here never reach the breaker.
	if res := g.params.Validate(ctx, req.Tool, req.Action, req.Params); !res.Valid {
		return fail("validation", &Error{
			Kind:    KindValidation,
			Message: "invalid parameters",
			Details: res.Errors,
		})
	}

	// (8) Admission control.
	if ok, retryAfter := g.limiter.Consume(ag.ID); !ok {
		if g.metrics != nil {
			g.metrics.IncRateLimitRejection()
		}
		return fail("ratelimit", &Error{
			Kind:       KindRateLimited,
			Message:    "rate limit exceeded",
			RetryAfter: retryAfter,
		})
	}

	// (9) Resilience-wrapped execution.
	adapter, err := g.adapters.Get(req.Tool)
	if err != nil {
		return fail("execute", &Error{Kind: KindBadRequest, Message: err.Error()})
	}
	if !adapter.Configured() {
		return fail("execute", &Error{Kind: KindUpstream, Message: "tool " + req.Tool + " is not configured"})
	}

	if req.Intent != "" {
		log.Debug("caller intent", "intent", req.Intent)
	}
	log.Debug("dispatching upstream", "params", maskParams(req.Params))

	mc := g.monitor.Start(corrID, ag.ID, req.Tool, req.Action, req.Params)
	result, err := g.executor.Execute(ctx, adapter, req.Action, req.Params)
	if err != nil {
		g.monitor.End(mc, nil, err)
		return fail("execute", g.upstreamError(req.Tool, err))
	}
	g.monitor.End(mc, result.Value, nil)

	// (10) Response filtering per policy.
	data := applyFilters(result.Value, decision.Filters)

	// (11)+(12) Audit write and response assembly.
	elapsed := g.now().Sub(start)
	finish(200, nil)
	if g.metrics != nil {
		g.metrics.IncStageOutcome("execute", "ok")
	}
	log.Info("request completed", "cached", result.Cached, "response_time_ms", elapsed.Milliseconds())

	return &Response{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			AgentID:        ag.ID,
			AgentName:      ag.Name,
			Tool:           req.Tool,
			Action:         req.Action,
			ResponseTimeMs: elapsed.Milliseconds(),
		},
		CorrID:              corrID,
		Cached:              result.Cached,
		RotationRecommended: verification.RotationRecommended,
		TokenExpiresAt:      payload.ExpiresAt,
	}, nil
}

// upstreamError maps an execution failure to a typed pipeline error.
func (g *Gateway) upstreamError(tool string, err error) *Error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		if g.metrics != nil {
			g.metrics.IncUpstreamError(tool, "circuit_open")
		}
		return &Error{Kind: KindCircuitOpen, Message: "upstream temporarily unavailable"}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindInternal, Message: "request cancelled"}
	}
	var ue *tools.UpstreamError
	if errors.As(err, &ue) {
		if g.metrics != nil {
			g.metrics.IncUpstreamError(tool, ue.Kind)
		}
		return &Error{Kind: KindUpstream, Message: ue.Error()}
	}
	if g.metrics != nil {
		g.metrics.IncUpstreamError(tool, "other")
	}
	return &Error{Kind: KindUpstream, Message: err.Error()}
}

// writeAudit records the terminal outcome, best-effort.
func (g *Gateway) writeAudit(l audit.RequestLog) {
	if g.auditor == nil {
		return
	}
	l.CreatedAt = g.now()
	g.auditor.RecordRequest(l)
}

// authFailureKind labels a token failure for metrics.
func authFailureKind(err error) string {
	switch {
	case errors.Is(err, token.ErrInvalidSignature):
		return "signature"
	case errors.Is(err, token.ErrDecryptionFailed):
		return "decryption"
	case errors.Is(err, token.ErrTokenExpired):
		return "expired"
	case errors.Is(err, token.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, token.ErrTokenNotFound):
		return "not_registered"
	case errors.Is(err, token.ErrProofMismatch):
		return "proof"
	case errors.Is(err, token.ErrMalformedToken), errors.Is(err, token.ErrMalformedPayload):
		return "malformed"
	default:
		return "other"
	}
}

// applyFilters restricts a map result to the fields a policy allows through.
// Non-map results and empty filter lists pass unchanged.
func applyFilters(value any, filters []string) any {
	if len(filters) == 0 {
		return value
	}
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(filters))
	for _, f := range filters {
		if v, exists := m[f]; exists {
			out[f] = v
		}
	}
	return out
}
