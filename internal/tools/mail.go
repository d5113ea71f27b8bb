package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailAdapter sends mail through an HTTP relay. Sends are never idempotent,
// so the resilience layer will not retry or cache them.
type MailAdapter struct {
	endpoint string
	client   *http.Client
	creds    CredentialSource
}

func NewMailAdapter(endpoint string, timeout time.Duration, creds CredentialSource) *MailAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailAdapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		creds:    creds,
	}
}

func (a *MailAdapter) Name() string { return "mail" }

func (a *MailAdapter) Configured() bool { return a.endpoint != "" && a.creds != nil }

func (a *MailAdapter) Idempotent(string) bool { return false }

func (a *MailAdapter) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	if action != "send" {
		return nil, fmt.Errorf("mail tool does not support action %q", action)
	}
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	if to == "" || subject == "" {
		return nil, fmt.Errorf("mail tool requires 'to' and 'subject' parameters")
	}
	body, _ := params["body"].(string)

	cred, err := a.creds.Get(ctx, "mail")
	if err != nil {
		return nil, fmt.Errorf("resolving mail credential: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Tool: "mail", Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read mail response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{Tool: "mail", StatusCode: resp.StatusCode, Kind: "status"}
	}

	out := map[string]any{"sent": true, "to": to}
	if len(raw) > 0 {
		var upstream any
		if json.Unmarshal(raw, &upstream) == nil {
			out["upstream"] = upstream
		}
	}
	return out, nil
}
