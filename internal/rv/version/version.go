// Package version implements a version and requirement algebra: an ordered
// sequence of non-negative integers with an optional pre-release suffix,
// and the requirement clauses that constrain it.
//
// The teacher's own Constraint design (constraints.go's Matches/MatchesAny/
// Intersect trio, backed there by github.com/Masterminds/semver) shaped the
// interface here, but the implementation is hand-rolled: R package versions
// are arbitrary-length dot sequences (1.2.3.4 is common and legal), which
// semver's fixed major.minor.patch shape cannot hold.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an ordered sequence of non-negative integer components with
// an optional pre-release suffix. Missing trailing components compare as
// zero, and a pre-release sorts before the corresponding release.
type Version struct {
	components []int
	pre        string // "" means no pre-release (a full release)
	hasPre     bool
}

// Parse accepts dot-separated integers with an optional "-pre" or ".pre"
// suffix, e.g. "1.2.3", "2.0.0.1", "1.4-1", "0.9.0.rc1".
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("version: empty string")
	}

	body := s
	var pre string
	hasPre := false
	if i := strings.IndexByte(s, '-'); i >= 0 {
		body, pre = s[:i], s[i+1:]
		hasPre = true
	}

	parts := strings.Split(body, ".")
	// A pre-release may also be expressed as an extra trailing dot segment
	// that is non-numeric (e.g. "1.2.3.rc1"), matching R's historic
	// "x.y.z.w" development-version convention.
	if !hasPre && len(parts) > 0 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err != nil {
			pre = parts[len(parts)-1]
			parts = parts[:len(parts)-1]
			hasPre = true
		}
	}

	if len(parts) < 2 {
		return Version{}, fmt.Errorf("version: %q needs at least two components", s)
	}

	comps := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("version: invalid component %q in %q", p, s)
		}
		comps[i] = n
	}

	return Version{components: comps, pre: pre, hasPre: hasPre}, nil
}

// MustParse is Parse, panicking on error. Intended for tests and for
// builtin-package tables baked into the binary.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version in canonical dotted form.
func (v Version) String() string {
	parts := make([]string, len(v.components))
	for i, c := range v.components {
		parts[i] = strconv.Itoa(c)
	}
	s := strings.Join(parts, ".")
	if v.hasPre {
		s += "-" + v.pre
	}
	return s
}

// IsZero reports whether v is the unparsed zero value.
func (v Version) IsZero() bool { return v.components == nil }

// Components returns the version's numeric components, for callers (the
// lockfile's binary codec) that need to serialize a Version without
// going through its string form.
func (v Version) Components() []int { return append([]int(nil), v.components...) }

// Pre returns the version's pre-release suffix, if any.
func (v Version) Pre() string { return v.pre }

// HasPre reports whether the version carries a pre-release suffix.
func (v Version) HasPre() bool { return v.hasPre }

// FromComponents reconstructs a Version from its decomposed parts, the
// inverse of Components/Pre/HasPre.
func FromComponents(components []int, pre string, hasPre bool) Version {
	return Version{components: append([]int(nil), components...), pre: pre, hasPre: hasPre}
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b. Component-wise; missing trailing components compare as zero. A
// pre-release version sorts before its corresponding release.
func Compare(a, b Version) int {
	n := len(a.components)
	if len(b.components) > n {
		n = len(b.components)
	}
	for i := 0; i < n; i++ {
		ac, bc := 0, 0
		if i < len(a.components) {
			ac = a.components[i]
		}
		if i < len(b.components) {
			bc = b.components[i]
		}
		if ac != bc {
			if ac < bc {
				return -1
			}
			return 1
		}
	}

	switch {
	case a.hasPre && !b.hasPre:
		return -1
	case !a.hasPre && b.hasPre:
		return 1
	case a.hasPre && b.hasPre:
		return strings.Compare(a.pre, b.pre)
	default:
		return 0
	}
}

// Less reports whether a < b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// Equal reports whether a == b.
func Equal(a, b Version) bool { return Compare(a, b) == 0 }
