package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// UpstreamError describes a failed upstream call. StatusCode is zero when the
// call never produced an HTTP response (network failure, timeout). Kind is a
// coarse classification used in logs and metrics.
type UpstreamError struct {
	Tool       string
	StatusCode int
	Kind       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s returned status %d", e.Tool, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s failed (%s): %v", e.Tool, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying: timeouts, network
// faults, 5xx responses and upstream rate limiting. 4xx business errors are
// final.
func (e *UpstreamError) Transient() bool {
	if e.StatusCode == 0 {
		return e.Kind != "canceled"
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// classifyTransportError categorizes an error from the HTTP client.
func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return "timeout"
	}
	return "other"
}
