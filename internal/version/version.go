// Package version carries the build version, set via -ldflags.
package version

var (
	Version = "dev"
	Commit  = ""
)

// GetInfo returns a human-readable version string.
func GetInfo() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
