// Package plan implements the build planner and change detector: given a
// Resolution and the current library state, it produces an ordered list
// of Install/Remove/Keep actions, and gates removals behind an in-use
// safety probe. The previous lockfile is not consulted; change detection
// relies on the install records found in the library.
package plan

import (
	"sort"

	"github.com/rainoffallingstar/rv/internal/rv/library"
	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
)

// ActionKind discriminates the three outcomes a name can have in a plan.
type ActionKind int

const (
	Install ActionKind = iota
	Remove
	Keep
)

func (k ActionKind) String() string {
	switch k {
	case Install:
		return "install"
	case Remove:
		return "remove"
	default:
		return "keep"
	}
}

// Action is one planned operation on a single package name.
type Action struct {
	Kind ActionKind
	Name string
	Node *resolve.ResolvedNode // nil for Remove
}

// Plan is the build planner's complete output.
type Plan struct {
	Actions []Action
	Cycles  [][]string
}

// Build compares res against the current library contents, producing the
// minimum set of actions, in an order that never installs a node before
// its hard/linking dependencies (the cycle batches are kept
// adjacent and in name order, matching resolve.Resolution.Cycles).
func Build(res *resolve.Resolution, installed map[string]library.Entry) Plan {
	var p Plan
	p.Cycles = res.Cycles

	seen := map[string]bool{}
	for _, name := range res.Order {
		seen[name] = true
		node := res.Nodes[name]
		if node.Source == source.Builtin || node.DependenciesOnly {
			continue // builtin or dependencies-only: never installed
		}

		entry, ok := installed[name]
		if !ok || needsInstall(node, entry) {
			p.Actions = append(p.Actions, Action{Kind: Install, Name: name, Node: node})
		} else {
			p.Actions = append(p.Actions, Action{Kind: Keep, Name: name, Node: node})
		}
	}

	var toRemove []string
	for name := range installed {
		if !seen[name] {
			toRemove = append(toRemove, name)
		}
	}
	sort.Strings(toRemove)
	for _, name := range toRemove {
		p.Actions = append(p.Actions, Action{Kind: Remove, Name: name})
	}

	return p
}

// needsInstall reports whether an already-installed entry must be
// reinstalled: absent (handled by the caller), version mismatch, source-
// kind change, fingerprint drift, digest mismatch, or force_source now
// true while the installed form was not source-built by this system
// (it came from a cached or prebuilt binary). Entries with
// no recorded install metadata (HasMeta false) predate this tool's
// management or were dropped in manually, so they're always reinstalled
// to bring them under control.
func needsInstall(node *resolve.ResolvedNode, entry library.Entry) bool {
	if !entry.HasMeta || entry.Drifted {
		return true
	}
	if node.Version.String() != entry.Version.String() {
		return true
	}
	if node.Source != entry.Source {
		return true
	}
	if node.Digest != "" && entry.Digest != "" && node.Digest != entry.Digest {
		return true
	}
	if node.ForceSource && !entry.BuiltFromSource {
		return true
	}
	return false
}

// OpenFileProbe is the external in-use safety collaborator:
// an lsof-equivalent that reports which processes have a package's
// installed files mapped open. A platform with no such capability
// returns an empty, nil-error result.
type OpenFileProbe interface {
	ProcessesUsing(packageDir string) ([]rverrors.InUseProcess, error)
}

// CheckInUse runs the safety probe over every Remove action in p,
// failing the whole sync with PackageInUse if any removal target is
// mapped into a running process.
func CheckInUse(p Plan, libraryDir func(name string) string, probe OpenFileProbe) error {
	if probe == nil {
		return nil
	}
	for _, a := range p.Actions {
		if a.Kind != Remove {
			continue
		}
		procs, err := probe.ProcessesUsing(libraryDir(a.Name))
		if err != nil {
			return err
		}
		if len(procs) > 0 {
			return &rverrors.PackageInUse{Package: a.Name, Processes: procs}
		}
	}
	return nil
}
