// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the relay release
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for banners and /health.
func String() string {
	if GitSHA == "unknown" && BuildTime == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
