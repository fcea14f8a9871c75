package resolve

import (
	"context"

	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
)

// reconcile handles a work item whose name already has a resolved node:
// intersect requirements, and reject or accept a differing source kind per
// the tier-priority rule. When the later item resolves to a strictly
// higher-priority tier than the one that first claimed the name, the
// later source wins outright and replaces the existing node (re-fetching
// its descriptor and re-enqueuing its edges); the superseded node's
// already-enqueued dependents are left in the queue rather than
// retracted, matching the resolver's no-backtracking-across-tiers
// contract.
func (r *resolveState) reconcile(ctx context.Context, existing *ResolvedNode, item WorkItem) ([]WorkItem, error) {
	combined := r.reqOf[existing.Name].Intersect(item.Req)
	if !combined.Satisfiable() {
		return nil, &rverrors.VersionConflict{
			Package: existing.Name,
			Parents: []rverrors.RequiringParent{
				{Parent: r.parentOf[existing.Name], Requirement: r.reqOf[existing.Name].String()},
				{Parent: item.Parent, Requirement: item.Req.String()},
			},
		}
	}
	r.reqOf[existing.Name] = combined

	if existing.Source == source.Builtin {
		return nil, nil // builtin: no source kind to conflict over
	}

	newKind, newTier, ok := r.prospectiveSource(item)
	if !ok || newKind == existing.Source {
		if !combined.Satisfies(existing.Version) {
			return nil, &rverrors.VersionConflict{
				Package: existing.Name,
				Parents: []rverrors.RequiringParent{
					{Parent: r.parentOf[existing.Name], Requirement: r.reqOf[existing.Name].String()},
					{Parent: item.Parent, Requirement: item.Req.String()},
				},
			}
		}
		return nil, nil
	}

	existingTier := r.trail[existing.Name]
	if newTier < existingTier {
		node, desc, err := r.build(ctx, item, newTier)
		if err != nil {
			return nil, err
		}
		r.nodes[item.Name] = node
		r.trail[item.Name] = newTier
		r.parentOf[item.Name] = item.Parent
		return r.enqueueEdges(node, desc)
	}

	return nil, &rverrors.SourceConflict{
		Package:      existing.Name,
		FirstSource:  existing.Source.String(),
		SecondSource: newKind.String(),
	}
}

// prospectiveSource reports what tier and source kind item would resolve
// to if it were being seen for the first time, without mutating state or
// fetching a descriptor.
func (r *resolveState) prospectiveSource(item WorkItem) (source.Kind, Tier, bool) {
	tier, err := r.chooseTier(item)
	if err != nil {
		return 0, 0, false
	}
	switch tier {
	case TierLocal:
		return source.Local, tier, true
	case TierBuiltin:
		return source.Builtin, tier, true
	case TierLockfile:
		return r.in.Lockfile[item.Name].Source, tier, true
	case TierRepository:
		return source.Repo, tier, true
	case TierRemote:
		if item.Pref != nil && item.Pref.Git != nil {
			return source.Git, tier, true
		}
		return source.URL, tier, true
	}
	return 0, 0, false
}
