// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/wsdemo/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/wsdemo/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/wsdemo/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// When Commit is not set, the VCS revision stamped by the Go toolchain is
// used instead.
package version

import (
	"log/slog"
	"runtime"
	"runtime/debug"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + revision() + ") built " + BuildTime + " " + runtime.Version()
}

// LogValue groups the build information for structured logs.
func LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", Version),
		slog.String("commit", revision()),
		slog.String("built", BuildTime),
		slog.String("go", runtime.Version()),
	)
}

func revision() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return Commit
}
