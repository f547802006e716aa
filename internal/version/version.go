package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information for --version and /debug/.
func String() string {
	return fmt.Sprintf("smartbin %s (%s, built %s)", Version, GitSHA, BuildTime)
}
