// Package buildinfo carries version metadata stamped in via -ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time, for example:
//
//	go build -ldflags "-X github.com/nugget/daedalus/internal/buildinfo.Version=v0.3.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime reports how long the process has been running, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// Fields returns build metadata as slog key/value pairs.
func Fields() []any {
	return []any{
		"version", Version,
		"commit", GitCommit,
		"built", BuildTime,
		"go", runtime.Version(),
	}
}

// String returns a one-line banner for the version command.
func String() string {
	return fmt.Sprintf("daedalus %s (%s) built %s, %s %s/%s",
		Version, GitCommit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the User-Agent sent on outbound HTTP requests.
func UserAgent() string {
	return "daedalus/" + Version
}

// Info returns build metadata keyed for JSON output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
