// Package version provides build version information.
// Version and Commit are set at build time via ldflags:
// go build -ldflags "-X github.com/Rorqualx/stealthfetch/pkg/version.Version=1.0.0"
package version

import (
	"fmt"
	"runtime"
)

// Version is the application version, set at build time.
var Version = "dev"

// Commit is the source revision, set at build time.
var Commit = ""

// Full returns the full version string.
func Full() string {
	if Commit == "" {
		return Version
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}

// GoVersion returns the Go runtime version.
func GoVersion() string {
	return runtime.Version()
}
