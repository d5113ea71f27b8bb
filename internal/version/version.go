// Package version holds the gateway release version, shared by the CLI and
// the well-known manifest.
package version

const Version = "0.1.0"
