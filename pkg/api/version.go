package api

import (
	"fmt"

	"github.com/blang/semver"
)

// ReleaseOf extracts the major.minor release of a build name, e.g.
// "4.17" from "4.17.0-0.nightly-2024-06-01-123456" or "4.17.3".
func ReleaseOf(name string) (string, error) {
	version, err := semver.Parse(name)
	if err != nil {
		return "", fmt.Errorf("build name %q is not a valid version: %w", name, err)
	}
	return fmt.Sprintf("%d.%d", version.Major, version.Minor), nil
}

// PreviousMinor returns the release one minor version before the given
// one, used to resolve the starting payload of upgrade jobs.
func PreviousMinor(release string) (string, error) {
	version, err := semver.ParseTolerant(release)
	if err != nil {
		return "", fmt.Errorf("release %q is not a valid version: %w", release, err)
	}
	if version.Minor == 0 {
		return "", fmt.Errorf("release %q has no previous minor", release)
	}
	return fmt.Sprintf("%d.%d", version.Major, version.Minor-1), nil
}
