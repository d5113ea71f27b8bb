package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/4runr/gateway/internal/agent"
	"github.com/4runr/gateway/internal/audit"
	"github.com/4runr/gateway/internal/policy"
	"github.com/4runr/gateway/internal/resilience"
	"github.com/4runr/gateway/internal/token"
	"github.com/4runr/gateway/internal/tools"
	"github.com/4runr/gateway/internal/validate"
)

type fakeVerifier struct {
	v   *token.Verification
	err error
}

func (f *fakeVerifier) Verify(context.Context, string) (*token.Verification, error) {
	return f.v, f.err
}

type fakeProofs struct {
	err    error
	called bool
}

func (f *fakeProofs) CheckProof(context.Context, string, []byte) error {
	f.called = true
	return f.err
}

type fakeAgents struct {
	agents map[string]*agent.Agent
	err    error
}

func (f *fakeAgents) Get(_ context.Context, id string) (*agent.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.agents[id]
	if !ok {
		return nil, agent.ErrNotFound
	}
	return a, nil
}

type fakePolicies struct {
	d   *policy.Decision
	err error
}

func (f *fakePolicies) Evaluate(context.Context, string, string, string, string, map[string]any) (*policy.Decision, error) {
	return f.d, f.err
}

type fakeValidator struct{ res validate.Result }

func (f *fakeValidator) Validate(context.Context, string, string, map[string]any) validate.Result {
	return f.res
}

type fakeLimiter struct {
	ok    bool
	retry time.Duration
}

func (f *fakeLimiter) Consume(string) (bool, time.Duration) { return f.ok, f.retry }

type fakeExecutor struct {
	res   *resilience.Result
	err   error
	calls int
}

func (f *fakeExecutor) Execute(context.Context, tools.Adapter, string, map[string]any) (*resilience.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []audit.RequestLog
}

func (f *fakeAudit) RecordRequest(l audit.RequestLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, l)
}

func (f *fakeAudit) last(t *testing.T) audit.RequestLog {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		t.Fatal("no audit rows recorded")
	}
	return f.rows[len(f.rows)-1]
}

type fakeMetrics struct {
	quotaRejections     int
	rateLimitRejections int
	authFailures        int
}

func (f *fakeMetrics) IncRequest(string, string, int)         {}
func (f *fakeMetrics) ObserveRequestDuration(string, float64) {}
func (f *fakeMetrics) IncStageOutcome(string, string)         {}
func (f *fakeMetrics) IncActiveRequests()                     {}
func (f *fakeMetrics) DecActiveRequests()                     {}
func (f *fakeMetrics) IncAuthFailure(string)                  { f.authFailures++ }
func (f *fakeMetrics) IncRateLimitRejection()                 { f.rateLimitRejections++ }
func (f *fakeMetrics) IncQuotaRejection()                     { f.quotaRejections++ }
func (f *fakeMetrics) IncUpstreamError(string, string)        {}

type harness struct {
	gw       *Gateway
	verifier *fakeVerifier
	proofs   *fakeProofs
	agents   *fakeAgents
	policies *fakePolicies
	params   *fakeValidator
	limiter  *fakeLimiter
	executor *fakeExecutor
	auditor  *fakeAudit
	metrics  *fakeMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		verifier: &fakeVerifier{v: &token.Verification{
			Payload: &token.Payload{
				AgentID:   "agent-1",
				Tools:     []string{"search"},
				ExpiresAt: time.Now().Add(time.Hour),
			},
			TokenID: "tok-1",
		}},
		proofs: &fakeProofs{},
		agents: &fakeAgents{agents: map[string]*agent.Agent{
			"agent-1": {ID: "agent-1", Name: "crawler", Role: "worker", Status: agent.StatusActive},
		}},
		policies: &fakePolicies{d: &policy.Decision{Allowed: true, PolicyID: "pol-1"}},
		params:   &fakeValidator{res: validate.Result{Valid: true}},
		limiter:  &fakeLimiter{ok: true},
		executor: &fakeExecutor{res: &resilience.Result{Value: map[string]any{"hits": float64(3), "raw": "x"}}},
		auditor:  &fakeAudit{},
		metrics:  &fakeMetrics{},
	}
	h.gw = New(Options{
		Tokens:   h.verifier,
		Proofs:   h.proofs,
		Agents:   h.agents,
		Policies: h.policies,
		Params:   h.params,
		Limiter:  h.limiter,
		Adapters: tools.NewRegistry(tools.NewMockAdapter("search")),
		Executor: h.executor,
		Auditor:  h.auditor,
		Metrics:  h.metrics,
	})
	return h
}

func searchRequest() Request {
	return Request{
		AgentToken: "tok",
		Tool:       "search",
		Action:     "search",
		Params:     map[string]any{"q": "golang"},
	}
}

func TestProxySuccess(t *testing.T) {
	h := newHarness(t)

	resp, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr != nil {
		t.Fatalf("Proxy: %v", gerr)
	}
	if !resp.Success {
		t.Error("expected success")
	}
	if resp.Metadata.AgentID != "agent-1" || resp.Metadata.AgentName != "crawler" {
		t.Errorf("metadata mismatch: %+v", resp.Metadata)
	}
	if !strings.HasPrefix(resp.CorrID, "req_") {
		t.Errorf("generated corr id %q should have the req_ prefix", resp.CorrID)
	}

	row := h.auditor.last(t)
	if !row.Success || row.StatusCode != 200 || row.AgentID != "agent-1" {
		t.Errorf("audit row mismatch: %+v", row)
	}
	if row.CorrID != resp.CorrID {
		t.Error("audit row must carry the response correlation id")
	}
}

func TestProxyKeepsCallerCorrID(t *testing.T) {
	h := newHarness(t)
	req := searchRequest()
	req.CorrID = "req_123_abcdefghi"

	resp, gerr := h.gw.Proxy(context.Background(), req)
	if gerr != nil {
		t.Fatalf("Proxy: %v", gerr)
	}
	if resp.CorrID != req.CorrID {
		t.Errorf("caller corr id should pass through, got %q", resp.CorrID)
	}
}

func TestProxyStructuralValidation(t *testing.T) {
	h := newHarness(t)

	_, gerr := h.gw.Proxy(context.Background(), Request{Tool: "search"})
	if gerr == nil || gerr.Kind != KindBadRequest {
		t.Fatalf("expected bad_request, got %v", gerr)
	}
	if row := h.auditor.last(t); row.Success || row.StatusCode != 400 {
		t.Errorf("audit row should record the 400, got %+v", row)
	}
	if h.executor.calls != 0 {
		t.Error("failed structural validation must not reach the executor")
	}
}

func TestProxyAuthFailure(t *testing.T) {
	h := newHarness(t)
	h.verifier.v = nil
	h.verifier.err = token.ErrInvalidSignature

	_, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindAuth {
		t.Fatalf("expected auth error, got %v", gerr)
	}
	if gerr.HTTPStatus() != 403 {
		t.Errorf("auth failure should map to 403, got %d", gerr.HTTPStatus())
	}
	if row := h.auditor.last(t); row.Success || row.ErrorMessage == "" {
		t.Errorf("audit row should carry the failure, got %+v", row)
	}
}

func TestProxyProvenance(t *testing.T) {
	h := newHarness(t)
	req := searchRequest()
	req.TokenID = "tok-1"
	req.ProofPayload = []byte(`{"agent_id":"agent-1"}`)

	if _, gerr := h.gw.Proxy(context.Background(), req); gerr != nil {
		t.Fatalf("Proxy with valid proof: %v", gerr)
	}
	if !h.proofs.called {
		t.Error("proof check should run when token_id and proof are supplied")
	}

	h2 := newHarness(t)
	h2.proofs.err = token.ErrProofMismatch
	if _, gerr := h2.gw.Proxy(context.Background(), req); gerr == nil || gerr.Kind != KindAuth {
		t.Fatalf("proof mismatch should be an auth failure, got %v", gerr)
	}
	if h2.executor.calls != 0 {
		t.Error("proof mismatch must short-circuit before execution")
	}

	// Without a token_id the provenance stage is skipped entirely.
	h3 := newHarness(t)
	if _, gerr := h3.gw.Proxy(context.Background(), searchRequest()); gerr != nil {
		t.Fatalf("Proxy: %v", gerr)
	}
	if h3.proofs.called {
		t.Error("proof check must be skipped when no token_id is supplied")
	}
}

func TestProxyTokenScope(t *testing.T) {
	h := newHarness(t)
	req := searchRequest()
	req.Tool = "mail"
	req.Action = "send"

	_, gerr := h.gw.Proxy(context.Background(), req)
	if gerr == nil || gerr.Kind != KindAuth {
		t.Fatalf("tool outside token scope should fail auth, got %v", gerr)
	}
}

func TestProxyAgentChecks(t *testing.T) {
	h := newHarness(t)
	h.agents.agents = nil
	if _, gerr := h.gw.Proxy(context.Background(), searchRequest()); gerr == nil || gerr.Kind != KindAuth {
		t.Fatalf("unknown agent should fail closed as auth, got %v", gerr)
	}

	h = newHarness(t)
	h.agents.agents["agent-1"].Status = agent.StatusInactive
	if _, gerr := h.gw.Proxy(context.Background(), searchRequest()); gerr == nil || gerr.Kind != KindAuth {
		t.Fatalf("inactive agent should fail auth, got %v", gerr)
	}

	h = newHarness(t)
	h.agents.err = errors.New("db down")
	if _, gerr := h.gw.Proxy(context.Background(), searchRequest()); gerr == nil || gerr.Kind != KindInternal {
		t.Fatalf("store fault should be internal, got %v", gerr)
	}
}

func TestProxyPolicyDeny(t *testing.T) {
	h := newHarness(t)
	h.policies.d = &policy.Decision{Allowed: false, Reason: "denied: no policy permits search.search"}

	_, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindPolicyDeny {
		t.Fatalf("expected policy deny, got %v", gerr)
	}
	if !strings.Contains(gerr.Message, "denied") {
		t.Errorf("deny reason should surface, got %q", gerr.Message)
	}
	if h.executor.calls != 0 {
		t.Error("deny must not reach the executor")
	}
	if h.metrics.quotaRejections != 0 {
		t.Error("rule deny must not count as a quota rejection")
	}
}

func TestProxyQuotaDenyMetric(t *testing.T) {
	h := newHarness(t)
	h.policies.d = &policy.Decision{
		Allowed:       false,
		QuotaExceeded: true,
		Reason:        "throttled for search.search (limit 2 per 1m0s)",
	}

	_, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindPolicyDeny {
		t.Fatalf("expected policy deny, got %v", gerr)
	}
	// The counter keys off the decision flag, not the reason wording.
	if h.metrics.quotaRejections != 1 {
		t.Errorf("quota rejections = %d, want 1", h.metrics.quotaRejections)
	}
}

func TestProxyValidationFailure(t *testing.T) {
	h := newHarness(t)
	h.params.res = validate.Result{Valid: false, Errors: []string{"search requires a 'q' parameter"}}

	_, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", gerr)
	}
	if len(gerr.Details) != 1 {
		t.Errorf("validation details should surface, got %v", gerr.Details)
	}
	if h.executor.calls != 0 {
		t.Error("invalid params must never reach the executor or breaker")
	}
}

func TestProxyRateLimited(t *testing.T) {
	h := newHarness(t)
	h.limiter.ok = false
	h.limiter.retry = 7 * time.Second

	_, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", gerr)
	}
	if gerr.RetryAfter != 7*time.Second {
		t.Errorf("retry-after should surface, got %v", gerr.RetryAfter)
	}
	if gerr.HTTPStatus() != 429 {
		t.Errorf("rate limit maps to 429, got %d", gerr.HTTPStatus())
	}
}

func TestProxyUpstreamErrors(t *testing.T) {
	h := newHarness(t)
	h.executor.res = nil
	h.executor.err = resilience.ErrCircuitOpen
	_, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindCircuitOpen || gerr.HTTPStatus() != 503 {
		t.Fatalf("expected circuit_open/503, got %v", gerr)
	}

	h = newHarness(t)
	h.executor.res = nil
	h.executor.err = &tools.UpstreamError{Tool: "search", StatusCode: 502, Kind: "status"}
	_, gerr = h.gw.Proxy(context.Background(), searchRequest())
	if gerr == nil || gerr.Kind != KindUpstream || gerr.HTTPStatus() != 502 {
		t.Fatalf("expected upstream/502, got %v", gerr)
	}
	if row := h.auditor.last(t); row.Success {
		t.Error("upstream failure must be audited as a failure")
	}
}

func TestProxyUnknownTool(t *testing.T) {
	h := newHarness(t)
	h.verifier.v.Payload.Tools = []string{"*"}
	req := searchRequest()
	req.Tool = "nope"

	_, gerr := h.gw.Proxy(context.Background(), req)
	if gerr == nil || gerr.Kind != KindBadRequest {
		t.Fatalf("unknown tool should be bad_request, got %v", gerr)
	}
}

func TestProxyRotationHint(t *testing.T) {
	h := newHarness(t)
	h.verifier.v.RotationRecommended = true
	expires := h.verifier.v.Payload.ExpiresAt

	resp, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr != nil {
		t.Fatalf("Proxy: %v", gerr)
	}
	if !resp.RotationRecommended {
		t.Error("rotation hint should propagate to the response")
	}
	if !resp.TokenExpiresAt.Equal(expires) {
		t.Error("token expiry should propagate to the response")
	}
}

func TestProxyAppliesPolicyFilters(t *testing.T) {
	h := newHarness(t)
	h.policies.d = &policy.Decision{Allowed: true, Filters: []string{"hits"}}

	resp, gerr := h.gw.Proxy(context.Background(), searchRequest())
	if gerr != nil {
		t.Fatalf("Proxy: %v", gerr)
	}
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("filtered data should stay a map, got %#v", resp.Data)
	}
	if _, exists := m["raw"]; exists {
		t.Error("unfiltered field should be removed")
	}
	if m["hits"] != float64(3) {
		t.Errorf("allowed field should survive, got %#v", m)
	}
}

func TestProxyAuditsEveryTerminalPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.Proxy(ctx, Request{})       // structural failure
	h.gw.Proxy(ctx, searchRequest()) // success
	h.limiter.ok = false
	h.gw.Proxy(ctx, searchRequest()) // rate limited

	h.auditor.mu.Lock()
	n := len(h.auditor.rows)
	h.auditor.mu.Unlock()
	if n != 3 {
		t.Errorf("every terminal path needs an audit row, got %d", n)
	}
}

func TestMaskParams(t *testing.T) {
	masked := maskParams(map[string]any{
		"q":       "golang",
		"api_key": "sk-123",
		"nested":  map[string]any{"password": "hunter2", "host": "db"},
	})
	if masked["q"] != "golang" {
		t.Error("benign params should pass through")
	}
	if masked["api_key"] != "***" {
		t.Error("api_key should be masked")
	}
	nested := masked["nested"].(map[string]any)
	if nested["password"] != "***" || nested["host"] != "db" {
		t.Errorf("nested masking wrong: %#v", nested)
	}
}
