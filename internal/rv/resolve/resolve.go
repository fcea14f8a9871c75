package resolve

import (
	"context"

	"github.com/rainoffallingstar/rv/internal/rv/registry"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// Resolve runs the breadth-first multi-tier resolver to completion,
// returning a terminal error on the first conflict -- no partial
// Resolution is ever returned.
func Resolve(ctx context.Context, in Input) (*Resolution, error) {
	r := &resolveState{
		in:       in,
		nodes:    map[string]*ResolvedNode{},
		trail:    map[string]Tier{},
		parentOf: map[string]string{},
		reqOf:    map[string]version.Requirement{},
	}

	// Top-level items naming the same package are checked against each
	// other up front, so disjoint requirements surface as VersionConflict
	// rather than as a lookup failure of whichever item is processed first.
	firstItem := map[string]WorkItem{}
	for _, d := range in.Dependencies {
		prev, ok := firstItem[d.Name]
		if !ok {
			firstItem[d.Name] = d
		} else if !prev.Req.Intersect(d.Req).Satisfiable() {
			return nil, &rverrors.VersionConflict{Package: d.Name, Parents: []rverrors.RequiringParent{
				{Parent: prev.Parent, Requirement: prev.Req.String()},
				{Parent: d.Parent, Requirement: d.Req.String()},
			}}
		}
	}

	queue := append([]WorkItem(nil), in.Dependencies...)
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		next, err := r.process(ctx, item)
		if err != nil {
			return nil, err
		}
		queue = append(queue, next...)
	}

	order, cycles, err := topoSort(r.nodes)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Nodes:  r.nodes,
		Order:  order,
		Cycles: cycles,
		Trail:  r.trail,
	}, nil
}

type resolveState struct {
	in    Input
	nodes map[string]*ResolvedNode
	trail map[string]Tier

	// parentOf/reqOf track, for VersionConflict/SourceConflict messages,
	// who first asked for a name and what was accumulated.
	parentOf map[string]string
	reqOf    map[string]version.Requirement
}

func (r *resolveState) process(ctx context.Context, item WorkItem) ([]WorkItem, error) {
	if existing, ok := r.nodes[item.Name]; ok {
		return r.reconcile(ctx, existing, item)
	}

	tier, err := r.chooseTier(item)
	if err != nil {
		return nil, err
	}

	node, desc, err := r.build(ctx, item, tier)
	if err != nil {
		return nil, err
	}

	r.nodes[item.Name] = node
	r.trail[item.Name] = tier
	r.parentOf[item.Name] = item.Parent
	r.reqOf[item.Name] = item.Req

	return r.enqueueEdges(node, desc)
}

// chooseTier determines which of the five tiers would serve item,
// without yet fetching its descriptor. Builtin and local/remote
// preferences are resolved eagerly; repository/lockfile candidates are
// merely confirmed to exist here and picked for real in build().
func (r *resolveState) chooseTier(item WorkItem) (Tier, error) {
	if item.Pref != nil && item.Pref.Path != "" {
		return TierLocal, nil
	}

	if _, ok := builtinFor(r.in.Builtins, item.Name, item.Req); ok {
		return TierBuiltin, nil
	}

	if !r.in.FullUpgrade {
		if locked, ok := r.in.Lockfile[item.Name]; ok && item.Req.Satisfies(locked.Version) && r.lockedSourceReachable(locked) {
			return TierLockfile, nil
		}
	}

	if item.Pref == nil || (item.Pref.Git == nil && item.Pref.URL == "") {
		if _, ok := r.bestRepoCandidate(item); ok {
			return TierRepository, nil
		}
	}

	if item.Pref != nil && (item.Pref.Git != nil || item.Pref.URL != "") {
		return TierRemote, nil
	}

	return 0, &rverrors.PackageNotFound{Package: item.Name, Requirement: item.Req.String()}
}

func (r *resolveState) lockedSourceReachable(locked LockedNode) bool {
	switch locked.Source {
	case source.Repo:
		for _, rt := range r.in.Repositories {
			if rt.Alias == locked.RepoAlias {
				return true
			}
		}
		return false
	default:
		return true
	}
}

type repoCandidate struct {
	alias string
	entry registry.Entry
}

func (r *resolveState) bestRepoCandidate(item WorkItem) (repoCandidate, bool) {
	for _, rt := range r.in.Repositories {
		if item.RepositoryPin != "" && item.RepositoryPin != rt.Alias {
			continue
		}
		pkg, ok := rt.Index.Packages[item.Name]
		if !ok {
			continue
		}
		e, ok := pkg.Best(item.Req)
		if !ok {
			continue
		}
		if (item.ForceSource || rt.ForceSource) && e.Binary {
			if alt, ok := bestSourceEntry(pkg, item.Req); ok {
				e = alt
			}
		}
		return repoCandidate{alias: rt.Alias, entry: e}, true
	}
	return repoCandidate{}, false
}

func bestSourceEntry(pkg *registry.Package, req version.Requirement) (registry.Entry, bool) {
	var best *registry.Entry
	for i := range pkg.Versions {
		e := pkg.Versions[i]
		if e.Binary || !req.Satisfies(e.Version) {
			continue
		}
		if best == nil || version.Compare(e.Version, best.Version) > 0 {
			best = &pkg.Versions[i]
		}
	}
	if best == nil {
		return registry.Entry{}, false
	}
	return *best, true
}
