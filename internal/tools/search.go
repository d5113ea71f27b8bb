package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// SearchAdapter queries a web-search API. The query rides in the "q" param;
// results are JSON. Searches are read-only, so the "search" action is cacheable.
type SearchAdapter struct {
	endpoint string
	client   *http.Client
	creds    CredentialSource
}

// NewSearchAdapter creates the adapter. creds must resolve a credential for
// "search" before the adapter reports itself configured.
func NewSearchAdapter(endpoint string, timeout time.Duration, creds CredentialSource) *SearchAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SearchAdapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		creds:    creds,
	}
}

func (a *SearchAdapter) Name() string { return "search" }

func (a *SearchAdapter) Configured() bool { return a.endpoint != "" && a.creds != nil }

func (a *SearchAdapter) Idempotent(action string) bool { return action == "search" }

// Execute performs one search. Optional params: "limit" (int), "site".
func (a *SearchAdapter) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	if action != "search" {
		return nil, fmt.Errorf("search tool does not support action %q", action)
	}
	query, _ := params["q"].(string)
	if query == "" {
		return nil, fmt.Errorf("search tool requires a 'q' parameter")
	}

	cred, err := a.creds.Get(ctx, "search")
	if err != nil {
		return nil, fmt.Errorf("resolving search credential: %w", err)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("api_key", cred)
	if limit, ok := params["limit"].(float64); ok && limit > 0 {
		q.Set("num", strconv.Itoa(int(limit)))
	}
	if site, ok := params["site"].(string); ok && site != "" {
		q.Set("site", site)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Tool: "search", Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{
			Tool:       "search",
			StatusCode: resp.StatusCode,
			Kind:       "status",
			Err:        fmt.Errorf("search upstream returned %d", resp.StatusCode),
		}
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out, nil
}
