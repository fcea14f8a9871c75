package plan

import (
	"testing"

	"github.com/rainoffallingstar/rv/internal/rv/library"
	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

func node(name, ver string, kind source.Kind, digest string) *resolve.ResolvedNode {
	return &resolve.ResolvedNode{
		Name:    name,
		Version: version.MustParse(ver),
		Source:  kind,
		Digest:  digest,
	}
}

func resolution(names []string, nodes map[string]*resolve.ResolvedNode, cycles [][]string) *resolve.Resolution {
	return &resolve.Resolution{Nodes: nodes, Order: names, Cycles: cycles}
}

func TestBuildInstallsMissingPackage(t *testing.T) {
	n := node("dplyr", "1.1.3", source.Repo, "abc")
	res := resolution([]string{"dplyr"}, map[string]*resolve.ResolvedNode{"dplyr": n}, nil)

	p := Build(res, map[string]library.Entry{})

	if len(p.Actions) != 1 || p.Actions[0].Kind != Install || p.Actions[0].Name != "dplyr" {
		t.Fatalf("expected single install action, got %+v", p.Actions)
	}
}

func TestBuildKeepsUpToDatePackage(t *testing.T) {
	n := node("dplyr", "1.1.3", source.Repo, "abc")
	res := resolution([]string{"dplyr"}, map[string]*resolve.ResolvedNode{"dplyr": n}, nil)
	installed := map[string]library.Entry{
		"dplyr": {Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo, Digest: "abc", HasMeta: true},
	}

	p := Build(res, installed)

	if len(p.Actions) != 1 || p.Actions[0].Kind != Keep {
		t.Fatalf("expected keep action, got %+v", p.Actions)
	}
}

func TestBuildReinstallsOnVersionChange(t *testing.T) {
	n := node("dplyr", "1.1.4", source.Repo, "abc")
	res := resolution([]string{"dplyr"}, map[string]*resolve.ResolvedNode{"dplyr": n}, nil)
	installed := map[string]library.Entry{
		"dplyr": {Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo, Digest: "abc", HasMeta: true},
	}

	p := Build(res, installed)

	if len(p.Actions) != 1 || p.Actions[0].Kind != Install {
		t.Fatalf("expected reinstall on version change, got %+v", p.Actions)
	}
}

func TestBuildReinstallsUnmanagedEntry(t *testing.T) {
	n := node("dplyr", "1.1.3", source.Repo, "abc")
	res := resolution([]string{"dplyr"}, map[string]*resolve.ResolvedNode{"dplyr": n}, nil)
	installed := map[string]library.Entry{
		"dplyr": {Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo, Digest: "abc"},
	}

	p := Build(res, installed)

	if len(p.Actions) != 1 || p.Actions[0].Kind != Install {
		t.Fatalf("expected reinstall of unmanaged entry, got %+v", p.Actions)
	}
}

func TestBuildSkipsBuiltinsAndDependenciesOnly(t *testing.T) {
	builtin := node("base", "4.3.1", source.Builtin, "")
	depsOnly := node("testthat", "3.2.0", source.Repo, "xyz")
	depsOnly.DependenciesOnly = true
	normal := node("dplyr", "1.1.3", source.Repo, "abc")

	res := resolution(
		[]string{"base", "testthat", "dplyr"},
		map[string]*resolve.ResolvedNode{"base": builtin, "testthat": depsOnly, "dplyr": normal},
		nil,
	)

	p := Build(res, map[string]library.Entry{})

	if len(p.Actions) != 1 || p.Actions[0].Name != "dplyr" {
		t.Fatalf("expected only dplyr to be planned, got %+v", p.Actions)
	}
}

func TestBuildReinstallsOnForceSourceOverBinaryInstall(t *testing.T) {
	n := node("dplyr", "1.1.3", source.Repo, "abc")
	n.ForceSource = true
	res := resolution([]string{"dplyr"}, map[string]*resolve.ResolvedNode{"dplyr": n}, nil)

	// Same version and digest, but the installed copy came from a cached
	// binary rather than a source build.
	installed := map[string]library.Entry{
		"dplyr": {Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo, Digest: "abc", HasMeta: true},
	}
	p := Build(res, installed)
	if len(p.Actions) != 1 || p.Actions[0].Kind != Install {
		t.Fatalf("expected force_source to reinstall a binary-installed package, got %+v", p.Actions)
	}

	installed["dplyr"] = library.Entry{
		Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo,
		Digest: "abc", HasMeta: true, BuiltFromSource: true,
	}
	p = Build(res, installed)
	if len(p.Actions) != 1 || p.Actions[0].Kind != Keep {
		t.Fatalf("expected an already source-built install to be kept, got %+v", p.Actions)
	}
}

func TestBuildRemovesOrphanedPackages(t *testing.T) {
	n := node("dplyr", "1.1.3", source.Repo, "abc")
	res := resolution([]string{"dplyr"}, map[string]*resolve.ResolvedNode{"dplyr": n}, nil)
	installed := map[string]library.Entry{
		"dplyr":  {Name: "dplyr", Version: version.MustParse("1.1.3"), Source: source.Repo, Digest: "abc", HasMeta: true},
		"stale1": {Name: "stale1", Version: version.MustParse("1.0.0")},
		"stale2": {Name: "stale2", Version: version.MustParse("2.0.0")},
	}

	p := Build(res, installed)

	var removed []string
	for _, a := range p.Actions {
		if a.Kind == Remove {
			removed = append(removed, a.Name)
		}
	}
	if len(removed) != 2 || removed[0] != "stale1" || removed[1] != "stale2" {
		t.Fatalf("expected sorted removal of stale1, stale2, got %v", removed)
	}
}

func TestBuildPassesThroughCycles(t *testing.T) {
	a := node("a", "1.0.0", source.Repo, "")
	b := node("b", "1.0.0", source.Repo, "")
	cycles := [][]string{{"a", "b"}}
	res := resolution([]string{"a", "b"}, map[string]*resolve.ResolvedNode{"a": a, "b": b}, cycles)

	p := Build(res, map[string]library.Entry{})

	if len(p.Cycles) != 1 || len(p.Cycles[0]) != 2 {
		t.Fatalf("expected cycle batch to pass through, got %v", p.Cycles)
	}
}

type fakeProbe struct {
	busy map[string][]rverrors.InUseProcess
}

func (f fakeProbe) ProcessesUsing(dir string) ([]rverrors.InUseProcess, error) {
	return f.busy[dir], nil
}

func TestCheckInUseNoProbeIsNoop(t *testing.T) {
	p := Plan{Actions: []Action{{Kind: Remove, Name: "dplyr"}}}
	if err := CheckInUse(p, func(name string) string { return "/lib/" + name }, nil); err != nil {
		t.Fatalf("expected nil-probe no-op, got %v", err)
	}
}

func TestCheckInUseFailsWhenPackageBusy(t *testing.T) {
	p := Plan{Actions: []Action{{Kind: Remove, Name: "dplyr"}}}
	probe := fakeProbe{busy: map[string][]rverrors.InUseProcess{
		"/lib/dplyr": {{PID: 123, Name: "R"}},
	}}

	err := CheckInUse(p, func(name string) string { return "/lib/" + name }, probe)
	if err == nil {
		t.Fatal("expected PackageInUse error")
	}
	inUse, ok := err.(*rverrors.PackageInUse)
	if !ok {
		t.Fatalf("expected *rverrors.PackageInUse, got %T", err)
	}
	if inUse.Package != "dplyr" {
		t.Errorf("package = %q, want dplyr", inUse.Package)
	}
}

func TestCheckInUseIgnoresNonRemoveActions(t *testing.T) {
	n := node("dplyr", "1.1.3", source.Repo, "")
	p := Plan{Actions: []Action{{Kind: Install, Name: "dplyr", Node: n}}}
	probe := fakeProbe{busy: map[string][]rverrors.InUseProcess{
		"/lib/dplyr": {{PID: 123, Name: "R"}},
	}}

	if err := CheckInUse(p, func(name string) string { return "/lib/" + name }, probe); err != nil {
		t.Fatalf("expected install actions to be ignored, got %v", err)
	}
}
