// Package versioning provides semantic versioning for Tessera contracts.
// Contract versions follow SemVer 2.0.0 (https://semver.org).
package versioning

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ChangeType classifies the magnitude of a schema change.
type ChangeType string

const (
	ChangePatch ChangeType = "patch"
	ChangeMinor ChangeType = "minor"
	ChangeMajor ChangeType = "major"
)

// Valid reports whether the change type is one of the known values.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangePatch, ChangeMinor, ChangeMajor:
		return true
	}
	return false
}

// Initial is the version assigned to the first contract on an asset when
// the publisher does not supply one.
const Initial = "1.0.0"

// Parse parses a strict semantic version string.
func Parse(version string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return v, nil
}

// Compare compares two version strings.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsGreater reports whether candidate is strictly greater than current.
func IsGreater(candidate, current string) (bool, error) {
	cmp, err := Compare(candidate, current)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}

// Bump increments version by the given change type, dropping any
// prerelease or build metadata (IncMajor/IncMinor/IncPatch semantics).
func Bump(version string, change ChangeType) (string, error) {
	v, err := Parse(version)
	if err != nil {
		return "", err
	}
	var next semver.Version
	switch change {
	case ChangeMajor:
		next = v.IncMajor()
	case ChangeMinor:
		next = v.IncMinor()
	case ChangePatch:
		next = v.IncPatch()
	default:
		return "", fmt.Errorf("unknown change type %q", change)
	}
	return next.String(), nil
}
