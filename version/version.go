package version

import "fmt"

const (
	// Major is the current major version.
	Major = 0

	// Minor is the current minor version.
	Minor = 1

	// Patch is the current patch version.
	Patch = 0
)

// String returns the version in semver format.
func String() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}

// UserAgent returns the user agent string to advertise to peers.
func UserAgent() string {
	return fmt.Sprintf("/escrowd:%s/", String())
}
