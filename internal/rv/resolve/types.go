// Package resolve implements the breadth-first, multi-source constraint
// resolver: it walks the transitive closure of a manifest's
// dependencies across five source tiers -- local paths, builtins, the
// prior lockfile, declared repositories, and git/URL remotes -- choosing
// at most one concrete source per package name and emitting a totally
// ordered Resolution.
package resolve

import (
	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
	"github.com/rainoffallingstar/rv/internal/rv/registry"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// Tier identifies which of the five source tiers supplied a node, in
// priority order: the lowest-valued Tier that can satisfy an item always
// wins over a higher-valued one.
type Tier int

const (
	TierLocal Tier = iota
	TierBuiltin
	TierLockfile
	TierRepository
	TierRemote
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierBuiltin:
		return "builtin"
	case TierLockfile:
		return "lockfile"
	case TierRepository:
		return "repository"
	case TierRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ResolvedNode is the outcome for one package name.
type ResolvedNode struct {
	Name    string
	Version version.Version

	Source    source.Kind
	RepoAlias string
	GitRepo   string
	GitRef    string
	GitSHA    string
	URL       string
	LocalPath string
	Subdir    string
	Digest    string
	Binary    bool

	Deps []string

	ForceSource        bool
	InstallSuggestions bool
	DependenciesOnly   bool
}

// Resolution is the resolver's complete output: every resolved node, a
// build-safe topological order (cycle members grouped into batches), the
// cycle batches themselves, and a diagnostic trail of which tier supplied
// each node.
type Resolution struct {
	Nodes  map[string]*ResolvedNode
	Order  []string
	Cycles [][]string
	Trail  map[string]Tier
}

// GitPref pins a top-level dependency to a specific git remote and ref.
type GitPref struct {
	Repo    string
	Ref     string
	RefKind source.RefKind
	Subdir  string
}

// Preferred captures an explicit, non-repository source declared on a
// top-level manifest dependency.
type Preferred struct {
	Path string
	Git  *GitPref
	URL  string
}

// LockedNode is the shape the lockfile package persists and replays back
// into the resolver as the "prior lockfile" input.
type LockedNode struct {
	Name      string
	Version   version.Version
	Source    source.Kind
	RepoAlias string
	GitRepo   string
	GitRef    string
	GitSHA    string
	URL       string
	LocalPath string
	Subdir    string
	Digest    string
}

// RepoTier is one manifest-declared repository with its already-fetched
// index, in manifest order (tier-4 search order is strict).
type RepoTier struct {
	Alias       string
	Index       *registry.Index
	ForceSource bool
}

// Input bundles everything Resolve needs. Repositories must already be
// fetched (registry.FetchAll) before resolution begins -- the resolver
// itself performs no network I/O beyond what its Dispatcher does for
// per-node descriptor reads.
type Input struct {
	Dependencies          []WorkItem
	Repositories          []RepoTier
	Builtins              map[string]version.Version
	Lockfile              map[string]LockedNode
	FullUpgrade           bool
	PreferRepositoriesFor map[string]bool
	Dispatcher            *source.Dispatcher
}

// WorkItem is one queued resolution request: a name, its accumulated
// requirement, an optional explicit source preference, and per-edge
// options inherited from whichever manifest entry or descriptor edge
// produced it.
type WorkItem struct {
	Name               string
	Req                version.Requirement
	Parent             string
	Pref               *Preferred
	RepositoryPin      string
	ForceSource        bool
	InstallSuggestions bool
	DependenciesOnly   bool
}

// builtinFor reports whether name is pre-satisfied by a builtin at a
// version satisfying req.
func builtinFor(builtins map[string]version.Version, name string, req version.Requirement) (version.Version, bool) {
	v, ok := builtins[name]
	if !ok || !req.Satisfies(v) {
		return version.Version{}, false
	}
	return v, true
}

// shouldFollow reports whether the resolver follows a descriptor edge of
// this kind: hard, linking and soft edges always; suggests only when the
// parent asked for suggestions; enhances never.
func shouldFollow(kind descriptor.DependencyKind, parentInstallSuggestions bool) bool {
	switch kind {
	case descriptor.Hard, descriptor.Linking, descriptor.Soft:
		return true
	case descriptor.Suggests:
		return parentInstallSuggestions
	default: // Enhances
		return false
	}
}
