package gateway

import (
	"crypto/rand"
	"strconv"
	"time"
)

const corrAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newCorrID generates a correlation id of the form req_<unix_ms>_<9 alnum>.
func newCorrID(now time.Time) string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = corrAlphabet[int(b)%len(corrAlphabet)]
	}
	return "req_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(buf)
}

// sensitive parameter keys masked before params reach a log line.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"key":           true,
	"credential":    true,
	"authorization": true,
}

// maskParams returns a copy of params with sensitive values replaced. Nested
// maps are masked recursively.
func maskParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[k] {
			out[k] = "***"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = maskParams(nested)
			continue
		}
		out[k] = v
	}
	return out
}
