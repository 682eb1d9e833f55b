// Package version reports the build version and compares it with the
// version of the settings backend.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Set at build time with -ldflags "-X github.com/arrdeck/arrdeck/internal/version.version=...".
var version = "dev"

// String returns the build version.
func String() string { return version }

// ForTesting swaps the build version and returns a restore func. Not safe
// for parallel tests.
func ForTesting(v string) func() {
	prev := version
	version = v
	return func() { version = prev }
}

// FormatVersion prefixes a release version with "v". Empty and "dev" are
// returned unchanged.
func FormatVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "dev" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

var releasePattern = regexp.MustCompile(`^v?(\d+)\.(\d+)`)

// release extracts major and minor; ok is false for dev and unparsable
// builds.
func release(v string) (major, minor int, ok bool) {
	m := releasePattern.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, true
}

// CheckBackendMismatch returns a warning when this build and the backend
// are on different minor releases, the granularity at which settings
// documents change shape. Patch drift, git-describe suffixes and dev
// builds never warn.
func CheckBackendMismatch(backendVersion string) string {
	cMajor, cMinor, ok := release(version)
	if !ok {
		return ""
	}
	bMajor, bMinor, ok := release(backendVersion)
	if !ok {
		return ""
	}
	if cMajor == bMajor && cMinor == bMinor {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: arrdeck %s talking to backend %s: version mismatch, some settings may not round-trip",
		FormatVersion(version), FormatVersion(backendVersion),
	)
}
