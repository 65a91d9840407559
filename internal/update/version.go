package update

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed semantic version. Short forms are accepted and padded,
// so "2.1" and "2.1.0" compare equal. The zero Version is "no version".
type Version struct {
	v *semver.Version
}

// ParseVersion parses a semantic version string.
// Accepts versions with or without 'v' prefix (e.g., "2.1" or "v2.1.0").
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version format: %s", s)
	}
	return Version{v: v}, nil
}

// IsZero reports whether v holds no version.
func (v Version) IsZero() bool {
	return v.v == nil
}

// String returns the version as written by the release author, without a
// leading 'v' ("v2.2" prints as "2.2").
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(v.v.Original(), "v"), "V")
}

// Canonical returns the fully padded form, e.g. "2.2.0".
func (v Version) Canonical() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Prerelease returns the prerelease suffix, if any.
func (v Version) Prerelease() string {
	if v.v == nil {
		return ""
	}
	return v.v.Prerelease()
}

// Compare compares two versions.
// Returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
//
// Prerelease versions are considered less than release versions. The zero
// Version sorts before everything else.
func (v Version) Compare(other Version) int {
	switch {
	case v.v == nil && other.v == nil:
		return 0
	case v.v == nil:
		return -1
	case other.v == nil:
		return 1
	}
	return v.v.Compare(other.v)
}

// LessThan returns true if v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan returns true if v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal returns true if v == other.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}
