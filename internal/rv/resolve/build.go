package resolve

import (
	"context"

	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
)

// build resolves item against the chosen tier, fetching its descriptor
// once (builtins excepted, since they are pre-satisfied and never
// installed) and producing the node the rest of the algorithm traverses
// edges from. The descriptor is returned alongside the node so
// enqueueEdges never has to fetch it a second time.
func (r *resolveState) build(ctx context.Context, item WorkItem, tier Tier) (*ResolvedNode, *descriptor.Descriptor, error) {
	switch tier {
	case TierBuiltin:
		v, _ := builtinFor(r.in.Builtins, item.Name, item.Req)
		return &ResolvedNode{Name: item.Name, Version: v, Source: source.Builtin, DependenciesOnly: true}, nil, nil

	case TierLocal:
		ref := source.Ref{Kind: source.Local, Name: item.Name, LocalPath: item.Pref.Path}
		d, err := r.in.Dispatcher.Describe(ctx, ref)
		if err != nil {
			return nil, nil, &rverrors.DescriptorInvalid{Package: item.Name, Reason: err.Error()}
		}
		return r.nodeFromDescriptor(item, d, source.Local, ref), d, nil

	case TierLockfile:
		locked := r.in.Lockfile[item.Name]
		ref := refFromLocked(locked)
		d, err := r.in.Dispatcher.Describe(ctx, ref)
		if err != nil {
			return nil, nil, &rverrors.DescriptorInvalid{Package: item.Name, Reason: err.Error()}
		}
		node := r.nodeFromDescriptor(item, d, locked.Source, ref)
		node.Version = locked.Version
		node.RepoAlias = locked.RepoAlias
		node.GitSHA = locked.GitSHA
		node.Digest = locked.Digest
		return node, d, nil

	case TierRepository:
		cand, ok := r.bestRepoCandidate(item)
		if !ok {
			return nil, nil, &rverrors.PackageNotFound{Package: item.Name, Requirement: item.Req.String()}
		}
		ref := source.Ref{
			Kind:        source.Repo,
			Name:        item.Name,
			DownloadURL: cand.entry.URL,
			ExpectedSum: cand.entry.Digest,
		}
		d, err := r.in.Dispatcher.Describe(ctx, ref)
		if err != nil {
			return nil, nil, &rverrors.DescriptorInvalid{Package: item.Name, Reason: err.Error()}
		}
		node := r.nodeFromDescriptor(item, d, source.Repo, ref)
		node.Version = cand.entry.Version
		node.RepoAlias = cand.alias
		node.Digest = cand.entry.Digest
		node.Binary = cand.entry.Binary
		return node, d, nil

	case TierRemote:
		if item.Pref.Git != nil {
			ref := source.Ref{
				Kind:       source.Git,
				Name:       item.Name,
				GitRepo:    item.Pref.Git.Repo,
				GitRef:     item.Pref.Git.Ref,
				GitRefKind: item.Pref.Git.RefKind,
				Subdir:     item.Pref.Git.Subdir,
			}
			d, err := r.in.Dispatcher.Describe(ctx, ref)
			if err != nil {
				return nil, nil, &rverrors.DescriptorInvalid{Package: item.Name, Reason: err.Error()}
			}
			node := r.nodeFromDescriptor(item, d, source.Git, ref)
			node.GitSHA = d.ResolvedRef
			return node, d, nil
		}
		ref := source.Ref{Kind: source.URL, Name: item.Name, DownloadURL: item.Pref.URL}
		d, err := r.in.Dispatcher.Describe(ctx, ref)
		if err != nil {
			return nil, nil, &rverrors.DescriptorInvalid{Package: item.Name, Reason: err.Error()}
		}
		return r.nodeFromDescriptor(item, d, source.URL, ref), d, nil
	}
	return nil, nil, &rverrors.PackageNotFound{Package: item.Name, Requirement: item.Req.String()}
}

func (r *resolveState) nodeFromDescriptor(item WorkItem, d *descriptor.Descriptor, kind source.Kind, ref source.Ref) *ResolvedNode {
	return &ResolvedNode{
		Name:               item.Name,
		Version:            d.Version,
		Source:             kind,
		GitRepo:            ref.GitRepo,
		GitRef:             ref.GitRef,
		URL:                ref.DownloadURL,
		LocalPath:          ref.LocalPath,
		Subdir:             ref.Subdir,
		Binary:             d.Binary,
		ForceSource:        item.ForceSource,
		InstallSuggestions: item.InstallSuggestions,
		DependenciesOnly:   item.DependenciesOnly,
	}
}

func refFromLocked(l LockedNode) source.Ref {
	return source.Ref{
		Kind:        l.Source,
		Name:        l.Name,
		DownloadURL: l.URL,
		ExpectedSum: l.Digest,
		GitRepo:     l.GitRepo,
		GitRef:      l.GitRef,
		Subdir:      l.Subdir,
		LocalPath:   l.LocalPath,
	}
}

// enqueueEdges walks the descriptor's dependency edges (already combined
// and kind-resolved by the descriptor package) and produces the next
// round of work items, honoring the remotes-vs-repository override and
// recording each followed edge as a structural dependency of node.
func (r *resolveState) enqueueEdges(node *ResolvedNode, d *descriptor.Descriptor) ([]WorkItem, error) {
	if d == nil {
		return nil, nil // builtin: no edges, never installed
	}

	var next []WorkItem
	for _, e := range d.Edges {
		if !shouldFollow(e.Kind, node.InstallSuggestions) {
			continue
		}
		node.Deps = append(node.Deps, e.Name)

		wi := WorkItem{Name: e.Name, Req: e.Requirement, Parent: node.Name}
		if _, already := r.nodes[e.Name]; !already {
			if rem, ok := remoteFor(d, e.Name); ok && !r.preferRepositoryOverRemote(e, rem) {
				wi.Pref = preferredFromRemote(rem)
			}
		}
		next = append(next, wi)
	}
	return next, nil
}

func remoteFor(d *descriptor.Descriptor, name string) (descriptor.Remote, bool) {
	for _, rem := range d.Remotes {
		if rem.Repo == name || nameFromRepo(rem.Repo) == name {
			return rem, true
		}
	}
	return descriptor.Remote{}, false
}

// nameFromRepo extracts the trailing path segment of a remote repo URL
// (e.g. "owner/pkgname" -> "pkgname"), the common convention for remotes
// whose declared name matches the dependency name they satisfy.
func nameFromRepo(repo string) string {
	for i := len(repo) - 1; i >= 0; i-- {
		if repo[i] == '/' {
			return repo[i+1:]
		}
	}
	return repo
}

// preferRepositoryOverRemote implements the manifest's remote override: a
// remote is skipped in favor of the repository tier only when the name is
// in prefer_repositories_for, the edge carries a version requirement, and
// some repository can satisfy it.
func (r *resolveState) preferRepositoryOverRemote(e descriptor.Edge, rem descriptor.Remote) bool {
	if !r.in.PreferRepositoriesFor[e.Name] {
		return false
	}
	if e.Requirement.IsAny() {
		return false
	}
	_, ok := r.bestRepoCandidate(WorkItem{Name: e.Name, Req: e.Requirement})
	return ok
}

func preferredFromRemote(rem descriptor.Remote) *Preferred {
	switch rem.Kind {
	case descriptor.RemoteGit:
		ref := rem.Ref
		if ref == "" {
			ref = "HEAD"
		}
		return &Preferred{Git: &GitPref{Repo: rem.Repo, Ref: ref, RefKind: source.RefBranch, Subdir: rem.Subdir}}
	default:
		return &Preferred{URL: rem.Repo}
	}
}
