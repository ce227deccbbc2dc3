// Package version holds build metadata the binary stamps into its
// User-Agent header and /version endpoint.
package version

import (
	"fmt"
	"runtime"
)

// Build information set by the compiler via -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// FullVersion returns the full version string including git commit and build time.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent returns the string objectqld sends as the HTTP client identity
// when dialing a remote federation target.
func UserAgent() string {
	return fmt.Sprintf("objectqld/%s", Version)
}
