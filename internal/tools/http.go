package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize caps how much of an upstream body is read.
const maxResponseSize = 10 << 20

// CredentialSource resolves the upstream credential for a tool.
type CredentialSource interface {
	Get(ctx context.Context, tool string) (string, error)
}

// HTTPConfig configures an HTTPAdapter.
type HTTPConfig struct {
	// Name is the tool identifier; defaults to "http".
	Name string
	// AuthType is one of "bearer", "header", "query" or "none".
	AuthType string
	// AuthHeader is the header name for AuthType "header".
	AuthHeader string
	// AuthParam is the query parameter for AuthType "query"; defaults to
	// "api_key".
	AuthParam string
	// Timeout bounds each upstream call.
	Timeout time.Duration
}

// HTTPAdapter is a generic HTTP fetch tool. The target URL comes from the
// request params; host allow-listing happens in validation before the adapter
// is ever invoked.
type HTTPAdapter struct {
	name       string
	client     *http.Client
	creds      CredentialSource
	authType   string
	authHeader string
	authParam  string
}

// NewHTTPAdapter creates the adapter. creds may be nil when AuthType is
// "none".
func NewHTTPAdapter(cfg HTTPConfig, creds CredentialSource) *HTTPAdapter {
	name := cfg.Name
	if name == "" {
		name = "http"
	}
	authParam := cfg.AuthParam
	if authParam == "" {
		authParam = "api_key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		name:       name,
		client:     &http.Client{Timeout: timeout},
		creds:      creds,
		authType:   cfg.AuthType,
		authHeader: cfg.AuthHeader,
		authParam:  authParam,
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

// Configured reports whether the adapter can authenticate to its upstream.
func (a *HTTPAdapter) Configured() bool {
	if a.authType == "" || a.authType == "none" {
		return true
	}
	return a.creds != nil
}

// Idempotent: only plain fetches are safe to serve from cache.
func (a *HTTPAdapter) Idempotent(action string) bool {
	return action == "get"
}

// Execute performs one HTTP call. Supported actions are get, post, put and
// delete; post and put send params["body"] as a JSON payload.
func (a *HTTPAdapter) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	method, ok := map[string]string{
		"get":    http.MethodGet,
		"post":   http.MethodPost,
		"put":    http.MethodPut,
		"delete": http.MethodDelete,
	}[action]
	if !ok {
		return nil, fmt.Errorf("http tool does not support action %q", action)
	}

	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("http tool requires a 'url' parameter")
	}

	var body io.Reader
	if payload, ok := params["body"]; ok && (method == http.MethodPost || method == http.MethodPut) {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	if err := a.injectCredential(ctx, req); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Tool: a.name, Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &UpstreamError{Tool: a.name, Kind: "read_body", Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{Tool: a.name, StatusCode: resp.StatusCode, Kind: "status"}
	}

	return decodeBody(resp.Header.Get("Content-Type"), raw), nil
}

// injectCredential adds the tool credential to the outgoing request according
// to the configured auth type.
func (a *HTTPAdapter) injectCredential(ctx context.Context, req *http.Request) error {
	if a.authType == "" || a.authType == "none" {
		return nil
	}
	if a.creds == nil {
		return fmt.Errorf("no credential source configured for tool %q", a.name)
	}
	cred, err := a.creds.Get(ctx, a.name)
	if err != nil {
		return fmt.Errorf("resolve credential for tool %q: %w", a.name, err)
	}

	switch a.authType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cred)
	case "header":
		if a.authHeader != "" {
			req.Header.Set(a.authHeader, cred)
		}
	case "query":
		q := req.URL.Query()
		q.Set(a.authParam, cred)
		req.URL.RawQuery = q.Encode()
	default:
		return fmt.Errorf("unsupported auth type %q", a.authType)
	}
	return nil
}

// decodeBody parses a JSON response into a generic value; everything else is
// returned as a string.
func decodeBody(contentType string, raw []byte) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}
