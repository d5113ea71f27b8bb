package gateway

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a pipeline failure; it determines the HTTP status and
// whether the caller should retry.
type ErrorKind string

const (
	KindBadRequest  ErrorKind = "bad_request"
	KindAuth        ErrorKind = "auth_failed"
	KindPolicyDeny  ErrorKind = "policy_denied"
	KindValidation  ErrorKind = "validation_failed"
	KindRateLimited ErrorKind = "rate_limited"
	KindUpstream    ErrorKind = "upstream_error"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindInternal    ErrorKind = "internal_error"
)

// Error is the typed failure every pipeline stage returns. Details carries
// per-field messages for validation failures; RetryAfter is set only for
// KindRateLimited.
type Error struct {
	Kind       ErrorKind
	Message    string
	Details    []string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus maps the error kind to the response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest, KindValidation:
		return http.StatusBadRequest
	case KindAuth, KindPolicyDeny:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
