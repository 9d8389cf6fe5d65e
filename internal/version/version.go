// Package version holds build metadata injected at link time via
// -ldflags "-X ...".
package version

import "fmt"

var (
	// Version is the seedsig release string.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the build metadata as a single banner line.
func String() string {
	return fmt.Sprintf("seedsig %s (%s, built %s)", Version, GitSHA, BuildTime)
}
