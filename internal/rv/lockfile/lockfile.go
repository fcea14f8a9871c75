// Package lockfile serializes and deserializes a Resolution to two wire
// formats: a binary primary format (gob-encoded) and a JSON alternate
// exposed through `plan --json`.
package lockfile

import (
	"encoding/gob"
	"encoding/json"
	"io"
	"sort"

	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// CurrentFormatVersion is bumped on any schema change to the persisted
// shape below; readers reject a mismatch with LockfileIncompatible.
const CurrentFormatVersion = 1

// Lockfile is the full persisted state: format version, the engine and
// architecture the resolution was computed for, and every resolved node.
type Lockfile struct {
	FormatVersion int
	EngineVersion string
	Arch          string
	Nodes         []resolve.LockedNode
}

// FromResolution captures the subset of a Resolution the lockfile
// persists (excluding builtins, which are never installed and always
// re-derived from the engine's builtin set on the next run).
func FromResolution(res *resolve.Resolution, engineVersion, arch string) Lockfile {
	lf := Lockfile{FormatVersion: CurrentFormatVersion, EngineVersion: engineVersion, Arch: arch}
	for _, n := range res.Nodes {
		if n.Source == source.Builtin {
			continue // builtin
		}
		lf.Nodes = append(lf.Nodes, resolve.LockedNode{
			Name:      n.Name,
			Version:   n.Version,
			Source:    n.Source,
			RepoAlias: n.RepoAlias,
			GitRepo:   n.GitRepo,
			GitRef:    n.GitRef,
			GitSHA:    n.GitSHA,
			URL:       n.URL,
			LocalPath: n.LocalPath,
			Subdir:    n.Subdir,
			Digest:    n.Digest,
		})
	}
	sort.Slice(lf.Nodes, func(i, j int) bool { return lf.Nodes[i].Name < lf.Nodes[j].Name })
	return lf
}

// AsMap indexes the lockfile's nodes by name for resolver consumption.
func (lf Lockfile) AsMap() map[string]resolve.LockedNode {
	out := make(map[string]resolve.LockedNode, len(lf.Nodes))
	for _, n := range lf.Nodes {
		out[n.Name] = n
	}
	return out
}

type gobNode struct {
	Name      string
	Version   []int
	Pre       string
	HasPre    bool
	Source    int
	RepoAlias string
	GitRepo   string
	GitRef    string
	GitSHA    string
	URL       string
	LocalPath string
	Subdir    string
	Digest    string
}

type gobLockfile struct {
	FormatVersion int
	EngineVersion string
	Arch          string
	Nodes         []gobNode
}

// WriteBinary encodes lf in the primary wire format.
func WriteBinary(w io.Writer, lf Lockfile) error {
	g := gobLockfile{FormatVersion: lf.FormatVersion, EngineVersion: lf.EngineVersion, Arch: lf.Arch}
	for _, n := range lf.Nodes {
		g.Nodes = append(g.Nodes, toGobNode(n))
	}
	return gob.NewEncoder(w).Encode(g)
}

// ReadBinary decodes a Lockfile from the primary wire format, rejecting a
// format-version mismatch with LockfileIncompatible.
func ReadBinary(r io.Reader) (Lockfile, error) {
	var g gobLockfile
	if err := gob.NewDecoder(r).Decode(&g); err != nil {
		return Lockfile{}, err
	}
	if g.FormatVersion != CurrentFormatVersion {
		return Lockfile{}, &rverrors.LockfileIncompatible{Found: g.FormatVersion, Want: CurrentFormatVersion}
	}
	lf := Lockfile{FormatVersion: g.FormatVersion, EngineVersion: g.EngineVersion, Arch: g.Arch}
	for _, n := range g.Nodes {
		lf.Nodes = append(lf.Nodes, fromGobNode(n))
	}
	return lf, nil
}

func toGobNode(n resolve.LockedNode) gobNode {
	return gobNode{
		Name:      n.Name,
		Version:   versionComponents(n.Version),
		Pre:       n.Version.Pre(),
		HasPre:    n.Version.HasPre(),
		Source:    int(n.Source),
		RepoAlias: n.RepoAlias,
		GitRepo:   n.GitRepo,
		GitRef:    n.GitRef,
		GitSHA:    n.GitSHA,
		URL:       n.URL,
		LocalPath: n.LocalPath,
		Subdir:    n.Subdir,
		Digest:    n.Digest,
	}
}

func fromGobNode(g gobNode) resolve.LockedNode {
	return resolve.LockedNode{
		Name:      g.Name,
		Version:   version.FromComponents(g.Version, g.Pre, g.HasPre),
		Source:    source.Kind(g.Source),
		RepoAlias: g.RepoAlias,
		GitRepo:   g.GitRepo,
		GitRef:    g.GitRef,
		GitSHA:    g.GitSHA,
		URL:       g.URL,
		LocalPath: g.LocalPath,
		Subdir:    g.Subdir,
		Digest:    g.Digest,
	}
}

func versionComponents(v version.Version) []int {
	return v.Components()
}

// jsonNode mirrors Lockfile in the plan --json / alternate exchange
// format: human-readable, field names matching the manifest's own
// vocabulary.
type jsonNode struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Source     string `json:"source"`
	Repository string `json:"repository,omitempty"`
	Git        string `json:"git,omitempty"`
	GitRef     string `json:"git_ref,omitempty"`
	GitSHA     string `json:"git_sha,omitempty"`
	URL        string `json:"url,omitempty"`
	Path       string `json:"path,omitempty"`
	Subdir     string `json:"subdir,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

type jsonLockfile struct {
	FormatVersion int        `json:"format_version"`
	EngineVersion string     `json:"engine_version"`
	Arch          string     `json:"arch"`
	Nodes         []jsonNode `json:"packages"`
}

// WriteJSON encodes lf in the human-readable alternate exchange format.
func WriteJSON(w io.Writer, lf Lockfile) error {
	j := jsonLockfile{FormatVersion: lf.FormatVersion, EngineVersion: lf.EngineVersion, Arch: lf.Arch}
	for _, n := range lf.Nodes {
		j.Nodes = append(j.Nodes, jsonNode{
			Name:       n.Name,
			Version:    n.Version.String(),
			Source:     n.Source.String(),
			Repository: n.RepoAlias,
			Git:        n.GitRepo,
			GitRef:     n.GitRef,
			GitSHA:     n.GitSHA,
			URL:        n.URL,
			Path:       n.LocalPath,
			Subdir:     n.Subdir,
			Digest:     n.Digest,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(j)
}
