package resolve

import (
	"context"
	"testing"

	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
	"github.com/rainoffallingstar/rv/internal/rv/registry"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// fakeHandler serves canned descriptors by package name, standing in for
// the real source handlers so the resolver's algorithm can be tested
// without any network or filesystem I/O.
type fakeHandler struct {
	byName map[string]*descriptor.Descriptor
}

func (f fakeHandler) Describe(ctx context.Context, ref source.Ref) (*descriptor.Descriptor, error) {
	d, ok := f.byName[ref.Name]
	if !ok {
		return nil, rverrorsNotFound(ref.Name)
	}
	return d, nil
}

func (f fakeHandler) Stage(ctx context.Context, ref source.Ref, destDir string) (source.Staged, error) {
	return source.Staged{Dir: destDir}, nil
}

func rverrorsNotFound(name string) error {
	return &rverrors.DescriptorInvalid{Package: name, Reason: "no fake descriptor registered"}
}

func repoEntry(name, ver string, deps ...descriptor.Edge) (*descriptor.Descriptor, registry.Entry) {
	v := version.MustParse(ver)
	d := &descriptor.Descriptor{Name: name, Version: v, Edges: deps}
	e := registry.Entry{Version: v, URL: "https://example.com/" + name + "_" + ver + ".tar.gz"}
	return d, e
}

func edge(name, req string, kind descriptor.DependencyKind) descriptor.Edge {
	r, err := version.ParseRequirement(req)
	if err != nil {
		panic(err)
	}
	return descriptor.Edge{Name: name, Requirement: r, Kind: kind}
}

// buildFixture wires a single-repository registry.Index plus a
// Dispatcher backed by fakeHandler, from a simple name->(version, edges)
// table.
func buildFixture(t *testing.T, pkgs map[string][2]interface{}) (*source.Dispatcher, []RepoTier) {
	t.Helper()
	byName := map[string]*descriptor.Descriptor{}
	packages := map[string]*registry.Package{}

	for name, spec := range pkgs {
		ver := spec[0].(string)
		edges, _ := spec[1].([]descriptor.Edge)
		d, e := repoEntry(name, ver, edges...)
		byName[name] = d
		packages[name] = &registry.Package{Name: name, Latest: d.Version, Versions: []registry.Entry{e}}
	}

	handler := fakeHandler{byName: byName}
	dispatcher := &source.Dispatcher{Repo: handler, Git: handler, Local: handler, URL: handler}
	repos := []RepoTier{{Alias: "A", Index: &registry.Index{Alias: "A", Packages: packages}}}
	return dispatcher, repos
}

func TestResolveSimpleChain(t *testing.T) {
	dispatcher, repos := buildFixture(t, map[string][2]interface{}{
		"dplyr":    {"1.1.3", []descriptor.Edge{edge("generics", ">=0.1.0", descriptor.Hard), edge("rlang", "", descriptor.Soft)}},
		"generics": {"0.1.3", nil},
		"rlang":    {"1.1.1", nil},
	})

	in := Input{
		Dependencies: []WorkItem{{Name: "dplyr", Req: version.Any()}},
		Repositories: repos,
		Dispatcher:   dispatcher,
	}

	res, err := Resolve(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %v", len(res.Nodes), res.Nodes)
	}
	pos := map[string]int{}
	for i, n := range res.Order {
		pos[n] = i
	}
	if pos["dplyr"] < pos["generics"] || pos["dplyr"] < pos["rlang"] {
		t.Errorf("dplyr must come after its dependencies, order=%v", res.Order)
	}
}

func TestResolveVersionConflict(t *testing.T) {
	dispatcher, repos := buildFixture(t, map[string][2]interface{}{
		"rlang": {"0.9.0", nil},
	})

	in := Input{
		Dependencies: []WorkItem{
			{Name: "rlang", Req: mustReq(">=1.0"), Parent: "a"},
			{Name: "rlang", Req: mustReq("<1.0"), Parent: "b"},
		},
		Repositories: repos,
		Dispatcher:   dispatcher,
	}

	_, err := Resolve(context.Background(), in)
	if _, ok := err.(*rverrors.VersionConflict); !ok {
		t.Fatalf("expected VersionConflict, got %v (%T)", err, err)
	}
}

func TestResolveCycle(t *testing.T) {
	dispatcher, repos := buildFixture(t, map[string][2]interface{}{
		"a": {"1.0.0", []descriptor.Edge{edge("b", "", descriptor.Hard)}},
		"b": {"1.0.0", []descriptor.Edge{edge("a", "", descriptor.Hard)}},
	})

	in := Input{
		Dependencies: []WorkItem{{Name: "a", Req: version.Any()}},
		Repositories: repos,
		Dispatcher:   dispatcher,
	}

	res, err := Resolve(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Cycles) != 1 || len(res.Cycles[0]) != 2 {
		t.Fatalf("expected one 2-member cycle, got %v", res.Cycles)
	}
}

// TestResolveSourceConflictLowerPriorityLater mirrors scenario S4: a
// plain repository dependency on "dplyr" is seen first, then a sibling
// declares a git source for the same name. Git (TierRemote) is strictly
// lower priority than repository (TierRepository), so the later request
// does not win and is rejected.
func TestResolveSourceConflictLowerPriorityLater(t *testing.T) {
	dispatcher, repos := buildFixture(t, map[string][2]interface{}{
		"dplyr": {"1.1.3", nil},
	})

	in := Input{
		Dependencies: []WorkItem{
			{Name: "dplyr", Req: version.Any(), Parent: "a"},
			{Name: "dplyr", Req: version.Any(), Parent: "b", Pref: &Preferred{Git: &GitPref{Repo: "owner/dplyr", Ref: "v1.2", RefKind: source.RefTag}}},
		},
		Repositories: repos,
		Dispatcher:   dispatcher,
	}

	_, err := Resolve(context.Background(), in)
	if _, ok := err.(*rverrors.SourceConflict); !ok {
		t.Fatalf("expected SourceConflict, got %v (%T)", err, err)
	}
}

// TestResolveHigherPriorityLaterWins is the mirror of S4: a repository
// dependency is seen first, then a sibling declares a local path for the
// same name. Local (TierLocal) strictly outranks repository
// (TierRepository), so the later request wins and replaces the node.
func TestResolveHigherPriorityLaterWins(t *testing.T) {
	dispatcher, repos := buildFixture(t, map[string][2]interface{}{
		"dplyr": {"1.1.3", nil},
	})
	dispatcher.Local = fakeHandler{byName: map[string]*descriptor.Descriptor{
		"dplyr": {Name: "dplyr", Version: version.MustParse("9.9.9")},
	}}

	in := Input{
		Dependencies: []WorkItem{
			{Name: "dplyr", Req: version.Any(), Parent: "a"},
			{Name: "dplyr", Req: version.Any(), Parent: "b", Pref: &Preferred{Path: "/local/dplyr"}},
		},
		Repositories: repos,
		Dispatcher:   dispatcher,
	}

	res, err := Resolve(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	n := res.Nodes["dplyr"]
	if n.Source != source.Local {
		t.Fatalf("expected later local source to win, got %v", n.Source)
	}
	if n.Version.String() != "9.9.9" {
		t.Fatalf("expected node replaced with local descriptor's version, got %v", n.Version)
	}
}

func mustReq(s string) version.Requirement {
	r, err := version.ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return r
}
