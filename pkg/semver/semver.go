// Package semver implements the strict semantic-version algebra used by the
// module lifecycle engine: parsing, ordering, constraint satisfaction, and
// version bumping. Module versions must be exactly MAJOR.MINOR.PATCH with an
// optional -PRERELEASE suffix; anything looser (missing components, leading
// "v", build metadata) is rejected so that every stored version decomposes
// into the same four columns and the ordering invariant can be enforced at
// write time. Keeping the algebra in a dedicated pure package makes the
// publish, upgrade-path, and rollback layers share one definition of version
// ordering without duplicating string parsing throughout the codebase.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a decomposed semantic version.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// String reassembles the canonical version string.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Parse parses a version string in the exact form MAJOR.MINOR.PATCH[-PRERELEASE].
// The numeric components must be plain digit sequences. Any other shape is an
// error and callers must reject the version.
func Parse(s string) (Version, error) {
	core := s
	prerelease := ""
	if idx := strings.IndexByte(s, '-'); idx != -1 {
		core = s[:idx]
		prerelease = s[idx+1:]
		if prerelease == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty prerelease", s)
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: expected MAJOR.MINOR.PATCH", s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := parseNumeric(p)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Prerelease: prerelease}, nil
}

// parseNumeric accepts only non-empty digit sequences.
func parseNumeric(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric component")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-numeric component %q", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("numeric component %q out of range", s)
	}
	return n, nil
}

// IsValid reports whether s parses as a strict semantic version.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Compare orders two parsed versions: -1 if a < b, 0 if equal, 1 if a > b.
// Major, minor, and patch compare numerically. When the numeric parts are
// equal, a release (no prerelease) is greater than any prerelease of the same
// version, and two prereleases compare lexicographically.
func Compare(a, b Version) int {
	if c := compareInt(a.Major, b.Major); c != 0 {
		return c
	}
	if c := compareInt(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := compareInt(a.Patch, b.Patch); c != 0 {
		return c
	}

	switch {
	case a.Prerelease == b.Prerelease:
		return 0
	case a.Prerelease == "":
		return 1
	case b.Prerelease == "":
		return -1
	case a.Prerelease < b.Prerelease:
		return -1
	default:
		return 1
	}
}

// CompareStrings compares two version strings. Either string failing to parse
// is an error; use Compare when the versions are already decomposed.
func CompareStrings(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return Compare(va, vb), nil
}

// Satisfies reports whether version meets constraint. The constraint grammar:
//
//	"1.2.3"    exact match
//	"^1.2.3"   same major, version >= 1.2.3
//	"~1.2.3"   same major and minor, version >= 1.2.3
//	">=1.2.3"  / "<=1.2.3" / ">1.2.3" / "<1.2.3"  plain ordering
//
// An unparseable version or constraint body, or an unrecognised operator
// prefix, satisfies nothing (fail closed).
func Satisfies(version, constraint string) bool {
	v, err := Parse(version)
	if err != nil {
		return false
	}

	op, body := splitConstraint(constraint)
	c, err := Parse(body)
	if err != nil {
		return false
	}

	cmp := Compare(v, c)
	switch op {
	case "":
		return version == constraint
	case "^":
		return v.Major == c.Major && cmp >= 0
	case "~":
		return v.Major == c.Major && v.Minor == c.Minor && cmp >= 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	default:
		return false
	}
}

// splitConstraint separates the operator prefix from the version body.
// Two-character operators must be checked before their one-character prefixes.
func splitConstraint(constraint string) (op, body string) {
	for _, p := range []string{">=", "<=", ">", "<", "^", "~"} {
		if strings.HasPrefix(constraint, p) {
			return p, constraint[len(p):]
		}
	}
	return "", constraint
}

// Component names a version component for Increment.
type Component string

const (
	ComponentMajor Component = "major"
	ComponentMinor Component = "minor"
	ComponentPatch Component = "patch"
)

// Increment bumps the named component of version, resetting lower components
// to zero and dropping any prerelease suffix.
func Increment(version string, component Component) (string, error) {
	v, err := Parse(version)
	if err != nil {
		return "", err
	}

	switch component {
	case ComponentMajor:
		v = Version{Major: v.Major + 1}
	case ComponentMinor:
		v = Version{Major: v.Major, Minor: v.Minor + 1}
	case ComponentPatch:
		v = Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	default:
		return "", fmt.Errorf("unknown version component %q", component)
	}

	return v.String(), nil
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
