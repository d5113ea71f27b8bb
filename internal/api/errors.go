package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/4runr/gateway/internal/gateway"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retry_after,omitempty"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeGatewayError maps a typed pipeline error onto the wire: the error
// kind becomes the code, the kind's HTTP status is used, and rate-limit
// rejections additionally carry a Retry-After header in whole seconds.
func writeGatewayError(w http.ResponseWriter, gerr *gateway.Error) {
	detail := errorDetail{
		Code:    string(gerr.Kind),
		Message: gerr.Message,
		Details: gerr.Details,
	}
	if gerr.RetryAfter > 0 {
		secs := int(gerr.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		detail.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: detail})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}
