// Package descriptor parses the metadata file found in a prepared package
// tree into a PackageDescriptor. The wire grammar is the same
// line-oriented "Key: value" paragraph format used by repository indexes,
// so parsing is built on the same deb822-style paragraph decoder, the way
// a DESCRIPTION file and a Debian control file share one grammar inherited
// from the same RFC822 ancestor.
package descriptor

import (
	"io"
	"sort"
	"strings"

	"github.com/dpeckett/deb822"
	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// DependencyKind classifies one dependency edge.
type DependencyKind int

const (
	Hard DependencyKind = iota
	Linking
	Soft
	Suggests
	Enhances
)

// strength orders kinds from strongest to weakest for the "keep the
// strongest" merge rule applied when the same name appears under more
// than one field.
func (k DependencyKind) strength() int {
	switch k {
	case Hard:
		return 4
	case Linking:
		return 3
	case Soft:
		return 2
	case Suggests:
		return 1
	default: // Enhances
		return 0
	}
}

func (k DependencyKind) String() string {
	switch k {
	case Hard:
		return "depends"
	case Linking:
		return "linking_to"
	case Soft:
		return "imports"
	case Suggests:
		return "suggests"
	case Enhances:
		return "enhances"
	default:
		return "unknown"
	}
}

// AlwaysFollowed reports whether this kind is always walked during
// resolution regardless of per-node options: hard, linking, and
// soft/imports-as-hard are always followed; suggests is conditional;
// enhances never is.
func (k DependencyKind) AlwaysFollowed() bool {
	return k == Hard || k == Linking || k == Soft
}

// Edge is one (name, requirement, kind) dependency relationship.
type Edge struct {
	Name        string
	Requirement version.Requirement
	Kind        DependencyKind
}

// RemoteKind distinguishes the two forms of upstream remote reference a
// descriptor may embed.
type RemoteKind int

const (
	RemoteGit RemoteKind = iota
	RemoteURL
)

// Remote is an upstream reference embedded in a descriptor, verbatim,
// pending the resolver's decision on whether to follow it.
type Remote struct {
	Kind        RemoteKind
	Repo        string // git remote URL, or the plain URL for RemoteURL
	Ref         string // branch/tag/commit for RemoteGit; empty for RemoteURL
	Subdir      string
	Requirement version.Requirement // version constraint this remote implies, if any
}

// Descriptor is the parsed metadata of a prepared package source.
type Descriptor struct {
	Name               string
	Version            version.Version
	Edges              []Edge
	SystemRequirements []string
	Remotes            []Remote
	Binary             bool

	// ResolvedRef carries a source-handler-resolved identifier that isn't
	// part of the DESCRIPTION grammar itself -- set by the git handler to
	// the concrete commit SHA a branch/tag/commit ref resolved to, so the
	// resolver can pin ResolvedNode.GitSHA without a second clone.
	ResolvedRef string
}

type rawParagraph struct {
	Package           string `json:"Package"`
	Version           string `json:"Version"`
	Depends           string `json:"Depends"`
	Imports           string `json:"Imports"`
	LinkingTo         string `json:"LinkingTo"`
	Suggests          string `json:"Suggests"`
	Enhances          string `json:"Enhances"`
	SystemRequirement string `json:"SystemRequirements"`
	Built             string `json:"Built"`
	RemoteType        string `json:"RemoteType"`
	RemoteRepo        string `json:"RemoteRepo"`
	RemoteRef         string `json:"RemoteRef"`
	RemoteSubdir      string `json:"RemoteSubdir"`
}

// Parse reads a single DESCRIPTION-shaped paragraph and produces a
// Descriptor, combining all recognized edge categories and keeping, per
// name, only the strongest kind with the intersection of its requirements.
func Parse(r io.Reader) (*Descriptor, error) {
	dec, err := deb822.NewDecoder(r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening descriptor")
	}

	var paragraphs []rawParagraph
	if err := dec.Decode(&paragraphs); err != nil {
		return nil, errors.Wrap(err, "parsing descriptor")
	}
	if len(paragraphs) == 0 {
		return nil, &rverrors.DescriptorInvalid{Reason: "empty descriptor"}
	}
	raw := paragraphs[0]

	if raw.Package == "" {
		return nil, &rverrors.DescriptorInvalid{Reason: "missing Package field"}
	}
	if raw.Version == "" {
		return nil, &rverrors.DescriptorInvalid{Package: raw.Package, Reason: "missing Version field"}
	}

	v, err := version.Parse(raw.Version)
	if err != nil {
		return nil, &rverrors.DescriptorInvalid{Package: raw.Package, Reason: "bad Version: " + err.Error()}
	}

	merged := map[string]Edge{}
	merge := func(field string, kind DependencyKind) error {
		for _, item := range splitFieldList(field) {
			name, req, err := parseDepItem(item)
			if err != nil {
				return errors.Wrapf(err, "parsing %s edge for %s", kind, raw.Package)
			}
			if name == "R" || name == "base" {
				continue // engine itself is never a resolvable node
			}
			if existing, ok := merged[name]; ok {
				winner := existing.Kind
				if kind.strength() > existing.Kind.strength() {
					winner = kind
				}
				merged[name] = Edge{Name: name, Requirement: existing.Requirement.Intersect(req), Kind: winner}
				continue
			}
			merged[name] = Edge{Name: name, Requirement: req, Kind: kind}
		}
		return nil
	}

	if err := merge(raw.Depends, Hard); err != nil {
		return nil, err
	}
	if err := merge(raw.Imports, Soft); err != nil {
		return nil, err
	}
	if err := merge(raw.LinkingTo, Linking); err != nil {
		return nil, err
	}
	if err := merge(raw.Suggests, Suggests); err != nil {
		return nil, err
	}
	if err := merge(raw.Enhances, Enhances); err != nil {
		return nil, err
	}

	d := &Descriptor{
		Name:    raw.Package,
		Version: v,
		Binary:  strings.EqualFold(strings.TrimSpace(raw.Built), "binary"),
	}
	for _, e := range merged {
		d.Edges = append(d.Edges, e)
	}
	// merged is a map; fix the edge order so repeated parses of the same
	// descriptor yield identical Descriptors.
	sort.Slice(d.Edges, func(i, j int) bool { return d.Edges[i].Name < d.Edges[j].Name })
	if raw.SystemRequirement != "" {
		d.SystemRequirements = append(d.SystemRequirements, strings.TrimSpace(raw.SystemRequirement))
	}

	if raw.RemoteRepo != "" {
		rem := Remote{Repo: raw.RemoteRepo, Ref: raw.RemoteRef, Subdir: raw.RemoteSubdir}
		if strings.EqualFold(raw.RemoteType, "url") {
			rem.Kind = RemoteURL
		} else {
			rem.Kind = RemoteGit
		}
		d.Remotes = append(d.Remotes, rem)
	}

	return d, nil
}

// splitFieldList splits a comma-separated dependency field, the format
// used by both descriptor wire format and the paragraph repository index.
func splitFieldList(field string) []string {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(strings.ReplaceAll(part, "\n", " "))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDepItem parses one "name (op version)" entry, or a bare name for an
// unconstrained dependency.
func parseDepItem(item string) (name string, req version.Requirement, err error) {
	item = strings.TrimSpace(item)
	open := strings.IndexByte(item, '(')
	if open < 0 {
		return item, version.Any(), nil
	}
	close := strings.IndexByte(item, ')')
	if close < open {
		return "", version.Requirement{}, errors.Errorf("malformed dependency clause %q", item)
	}
	name = strings.TrimSpace(item[:open])
	clause := strings.TrimSpace(item[open+1 : close])
	req, err = version.ParseRequirement(clause)
	if err != nil {
		return "", version.Requirement{}, err
	}
	return name, req, nil
}
