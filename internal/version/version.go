package version

import (
	"fmt"
	"runtime"
)

//nolint:gochecknoglobals // Overridden through -ldflags -X.
var (
	// Version is the semantic version of the build.
	Version = "0.1.0-dev"
	// Commit is the short git SHA embedded at build time.
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns the version with commit, build time and toolchain.
func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)",
		Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
