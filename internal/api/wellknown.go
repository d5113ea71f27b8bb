package api

import (
	"fmt"
	"net/http"

	"github.com/4runr/gateway/internal/version"
)

// wellKnownManifest is the JSON manifest served at /.well-known/gateway.json.
// The version placeholder is filled from the shared release constant so the
// manifest cannot drift from the CLI version.
const wellKnownManifest = `{
  "name": "4Runr Gateway",
  "description": "Zero-trust request gateway for AI agent tool access",
  "version": %q,
  "api_base": "/api",
  "auth": {
    "type": "token",
    "field": "agent_token"
  },
  "endpoints": {
    "generate_token": "/api/generate-token",
    "proxy_request": "/api/proxy-request",
    "revoke_token": "/api/tokens/revoke",
    "agents": "/api/agents",
    "policies": "/api/policies"
  },
  "health": "/health",
  "metrics": "/metrics"
}`

// WellKnownHandler returns the gateway well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, wellKnownManifest, version.Version)
}
