// Package validate performs per-tool parameter validation before a request is
// dispatched upstream. Validation runs ahead of the resilience layer so that
// bad input is rejected without touching circuit-breaker accounting.
package validate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Result is the outcome of validating one request's parameters. Errors holds
// one human-readable message per violation; Valid is true only when Errors is
// empty.
type Result struct {
	Valid  bool
	Errors []string
}

// CredentialSource reports whether an upstream credential is configured for a
// tool. Implemented by the secrets providers.
type CredentialSource interface {
	Get(ctx context.Context, tool string) (string, error)
}

// checkFunc validates the params of a single (tool, action) call and appends
// any violations to the result.
type checkFunc func(action string, params map[string]any, errs []string) []string

// Validator holds the registered per-tool rules plus the shared domain
// allowlist for tools that reach out to arbitrary URLs.
type Validator struct {
	allowedDomains []string
	creds          CredentialSource
	checks         map[string]checkFunc
	needCredential map[string]bool
}

// New builds a Validator with the built-in rules for the known tools.
// allowedDomains restricts the hosts the http tool may target; an empty list
// rejects every http call. creds may be nil, which disables credential checks.
func New(allowedDomains []string, creds CredentialSource) *Validator {
	v := &Validator{
		allowedDomains: allowedDomains,
		creds:          creds,
		checks:         make(map[string]checkFunc),
		needCredential: make(map[string]bool),
	}
	v.checks["http"] = v.checkHTTP
	v.checks["mail"] = checkMail
	v.checks["search"] = checkSearch
	v.needCredential["mail"] = true
	v.needCredential["search"] = true
	return v
}

// RegisterCheck installs or replaces the rule for a tool.
func (v *Validator) RegisterCheck(tool string, fn func(action string, params map[string]any, errs []string) []string) {
	v.checks[tool] = fn
}

// RequireCredential marks a tool as needing a configured upstream credential.
func (v *Validator) RequireCredential(tool string) {
	v.needCredential[tool] = true
}

// Validate applies the rules registered for tool to params. Tools without a
// registered rule pass structural validation unchanged; the credential check
// still applies when the tool is marked as requiring one.
func (v *Validator) Validate(ctx context.Context, tool, action string, params map[string]any) Result {
	var errs []string

	if fn, ok := v.checks[tool]; ok {
		errs = fn(action, params, errs)
	}

	if v.needCredential[tool] && v.creds != nil {
		cred, err := v.creds.Get(ctx, tool)
		if err != nil || cred == "" {
			errs = append(errs, fmt.Sprintf("no credential configured for tool %q", tool))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// checkHTTP requires a url param whose scheme is http(s) and whose host is on
// the domain allowlist.
func (v *Validator) checkHTTP(action string, params map[string]any, errs []string) []string {
	raw, ok := stringParam(params, "url")
	if !ok {
		return append(errs, "http tool requires a 'url' parameter")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return append(errs, fmt.Sprintf("invalid url %q", raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if !v.hostAllowed(u.Hostname()) {
		errs = append(errs, fmt.Sprintf("domain %q is not on the allowlist", u.Hostname()))
	}
	return errs
}

// hostAllowed matches host against the allowlist, accepting exact matches and
// subdomains of an allowed entry.
func (v *Validator) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, d := range v.allowedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func checkMail(action string, params map[string]any, errs []string) []string {
	if action != "send" {
		return errs
	}
	if _, ok := stringParam(params, "to"); !ok {
		errs = append(errs, "mail.send requires a 'to' parameter")
	}
	if _, ok := stringParam(params, "subject"); !ok {
		errs = append(errs, "mail.send requires a 'subject' parameter")
	}
	return errs
}

func checkSearch(action string, params map[string]any, errs []string) []string {
	if _, ok := stringParam(params, "q"); !ok {
		errs = append(errs, "search requires a 'q' parameter")
	}
	return errs
}

// stringParam extracts a non-empty string value from params.
func stringParam(params map[string]any, key string) (string, bool) {
	raw, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
