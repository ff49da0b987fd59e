// Package version provides build-time version information for rtclient.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/regpilot-realtime/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/regpilot-realtime/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/regpilot-realtime/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	         ./cmd/rtclient
package version

import "log/slog"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return "rtclient " + Version + " (" + Commit + ") built " + BuildTime
}

// Attr groups the build fields for structured logs.
func Attr() slog.Attr {
	return slog.Group("build",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("time", BuildTime),
	)
}
