package version

import (
	"fmt"
	"strings"
)

// Op is one of the six comparison operators a requirement clause may use.
type Op string

const (
	OpEQ Op = "="
	OpNE Op = "!="
	OpLT Op = "<"
	OpLE Op = "<="
	OpGE Op = ">="
	OpGT Op = ">"
)

// Clause is a single (operator, version) constraint.
type Clause struct {
	Op      Op
	Version Version
}

func (c Clause) String() string { return string(c.Op) + " " + c.Version.String() }

// Matches reports whether v satisfies this single clause.
func (c Clause) Matches(v Version) bool {
	cmp := Compare(v, c.Version)
	switch c.Op {
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	default:
		return false
	}
}

// Requirement is a conjunction of clauses. An empty Requirement means "any
// version". Requirement values are immutable once constructed.
type Requirement struct {
	clauses []Clause
}

// Any returns the empty, always-satisfied requirement.
func Any() Requirement { return Requirement{} }

// Exact returns a requirement matching exactly one version.
func Exact(v Version) Requirement {
	return Requirement{clauses: []Clause{{Op: OpEQ, Version: v}}}
}

// NewRequirement builds a requirement from explicit clauses.
func NewRequirement(clauses ...Clause) Requirement {
	return Requirement{clauses: append([]Clause(nil), clauses...)}
}

// ParseRequirement parses a comma-separated conjunction of clauses, e.g.
// ">= 1.2.0, < 2.0.0" or "== 1.4.3". An empty string is the "any" requirement.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Any(), nil
	}

	var clauses []Clause
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseClause(part)
		if err != nil {
			return Requirement{}, err
		}
		clauses = append(clauses, c)
	}
	return Requirement{clauses: clauses}, nil
}

func parseClause(s string) (Clause, error) {
	// The descriptor grammar writes equality as both "=" and "==".
	if strings.HasPrefix(s, "==") {
		s = s[1:]
	}
	ops := []Op{OpGE, OpLE, OpNE, OpEQ, OpLT, OpGT} // order matters: two-char ops first
	for _, op := range ops {
		if strings.HasPrefix(s, string(op)) {
			rest := strings.TrimSpace(s[len(op):])
			v, err := Parse(rest)
			if err != nil {
				return Clause{}, fmt.Errorf("requirement clause %q: %w", s, err)
			}
			return Clause{Op: op, Version: v}, nil
		}
	}
	// Bare version with no operator means "exactly this version" (the
	// form the lockfile uses to pin).
	v, err := Parse(s)
	if err != nil {
		return Clause{}, fmt.Errorf("requirement clause %q: %w", s, err)
	}
	return Clause{Op: OpEQ, Version: v}, nil
}

// String renders the requirement the way it was built: a comma-joined
// conjunction, or "" for Any.
func (r Requirement) String() string {
	if len(r.clauses) == 0 {
		return ""
	}
	parts := make([]string, len(r.clauses))
	for i, c := range r.clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// IsAny reports whether the requirement matches any version.
func (r Requirement) IsAny() bool { return len(r.clauses) == 0 }

// Satisfies reports whether v meets every clause in the requirement.
func (r Requirement) Satisfies(v Version) bool {
	for _, c := range r.clauses {
		if !c.Matches(v) {
			return false
		}
	}
	return true
}

// Intersect returns the conjunction of r and o. It does not check for
// emptiness: Satisfiable decides that from the bound summary below, and
// Best returns ok=false when no candidate version matches.
func (r Requirement) Intersect(o Requirement) Requirement {
	return Requirement{clauses: append(append([]Clause(nil), r.clauses...), o.clauses...)}
}

// Exact reports the single version this requirement pins to, if it reduces
// to exactly one admissible version. Used by the lockfile to distinguish a
// "pinned" dependency from an open range (the "special requirement").
func (r Requirement) Exact() (Version, bool) {
	bounds := r.bounds()
	if bounds.exact != nil {
		return *bounds.exact, true
	}
	if bounds.lower != nil && bounds.upper != nil && Equal(*bounds.lower, *bounds.upper) &&
		bounds.lowerIncl && bounds.upperIncl {
		return *bounds.lower, true
	}
	return Version{}, false
}

type bounds struct {
	exact                *Version
	lower, upper         *Version
	lowerIncl, upperIncl bool
	excluded             []Version
}

// bounds folds the clause list into a single interval summary so emptiness
// can be decided without enumerating candidate versions.
func (r Requirement) bounds() bounds {
	var b bounds
	for _, c := range r.clauses {
		v := c.Version
		switch c.Op {
		case OpEQ:
			vv := v
			b.exact = &vv
		case OpNE:
			b.excluded = append(b.excluded, v)
		case OpGE:
			if b.lower == nil || Compare(v, *b.lower) > 0 {
				vv := v
				b.lower, b.lowerIncl = &vv, true
			}
		case OpGT:
			if b.lower == nil || Compare(v, *b.lower) >= 0 {
				vv := v
				b.lower, b.lowerIncl = &vv, false
			}
		case OpLE:
			if b.upper == nil || Compare(v, *b.upper) < 0 {
				vv := v
				b.upper, b.upperIncl = &vv, true
			}
		case OpLT:
			if b.upper == nil || Compare(v, *b.upper) <= 0 {
				vv := v
				b.upper, b.upperIncl = &vv, false
			}
		}
	}
	return b
}

// Satisfiable reports whether any version at all could satisfy r -- i.e.
// whether its interval is non-empty. This is what the resolver consults
// to raise VersionConflict (the Intersect contract).
func (r Requirement) Satisfiable() bool {
	b := r.bounds()
	if b.exact != nil {
		for _, c := range r.clauses {
			if c.Op == OpEQ && !Equal(c.Version, *b.exact) {
				return false
			}
		}
		if b.lower != nil {
			if Compare(*b.exact, *b.lower) < 0 || (Compare(*b.exact, *b.lower) == 0 && !b.lowerIncl) {
				return false
			}
		}
		if b.upper != nil {
			if Compare(*b.exact, *b.upper) > 0 || (Compare(*b.exact, *b.upper) == 0 && !b.upperIncl) {
				return false
			}
		}
		for _, e := range b.excluded {
			if Equal(*b.exact, e) {
				return false
			}
		}
		return true
	}
	if b.lower != nil && b.upper != nil {
		cmp := Compare(*b.lower, *b.upper)
		if cmp > 0 {
			return false
		}
		if cmp == 0 && !(b.lowerIncl && b.upperIncl) {
			return false
		}
		if cmp == 0 {
			for _, e := range b.excluded {
				if Equal(*b.lower, e) {
					return false
				}
			}
		}
	}
	return true
}

// Best picks the highest version in candidates that satisfies r, applying
// the standard tie-break rule (the caller supplies candidates already
// ordered by whatever secondary priority -- e.g. binary-before-source,
// repository order -- it wants ties broken by; Best only enforces
// "highest version wins" and returns the first satisfying entry at that
// top version).
func Best(candidates []Version, r Requirement) (Version, bool) {
	var best *Version
	for i := range candidates {
		v := candidates[i]
		if !r.Satisfies(v) {
			continue
		}
		if best == nil || Compare(v, *best) > 0 {
			best = &candidates[i]
		}
	}
	if best == nil {
		return Version{}, false
	}
	return *best, true
}
