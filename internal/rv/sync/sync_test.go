package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/library"
	"github.com/rainoffallingstar/rv/internal/rv/plan"
	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/synclock"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// fakeRunner simulates an external install command: it writes a minimal
// installed tree into destDir without shelling out, so tests don't depend
// on R being present.
type fakeRunner struct {
	fail bool
}

func (r fakeRunner) Install(ctx context.Context, srcDir, destDir string) (int, []byte, error) {
	if r.fail {
		return 1, []byte("install failed"), nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return -1, nil, err
	}
	desc := filepath.Join(srcDir, "DESCRIPTION")
	data, err := os.ReadFile(desc)
	if err != nil {
		return -1, nil, err
	}
	if err := os.WriteFile(filepath.Join(destDir, "DESCRIPTION"), data, 0o644); err != nil {
		return -1, nil, err
	}
	return 0, []byte("ok"), nil
}

func newLocalSourceDir(t *testing.T, name, ver string) string {
	t.Helper()
	dir := t.TempDir()
	desc := "Package: " + name + "\nVersion: " + ver + "\n"
	if err := os.WriteFile(filepath.Join(dir, "DESCRIPTION"), []byte(desc), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newPool(t *testing.T, runner InstallRunner) (*Pool, string) {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	libDir := filepath.Join(t.TempDir(), "library")
	if err := os.MkdirAll(filepath.Join(libDir, library.StagingDirName), 0o755); err != nil {
		t.Fatal(err)
	}

	pool := &Pool{
		Workers:       2,
		Dispatcher:    source.NewDispatcher(store),
		Cache:         store,
		Runner:        runner,
		LibraryDir:    libDir,
		EngineVersion: "4.3.1",
		Arch:          "linux-amd64",
		Fingerprint:   "fp1",
	}
	return pool, libDir
}

func localNode(name, ver, path string, deps ...string) *resolve.ResolvedNode {
	return &resolve.ResolvedNode{
		Name:      name,
		Version:   version.MustParse(ver),
		Source:    source.Local,
		LocalPath: path,
		Deps:      deps,
	}
}

func TestRunInstallsAndPublishes(t *testing.T) {
	src := newLocalSourceDir(t, "dplyr", "1.1.3")
	pool, libDir := newPool(t, fakeRunner{})

	p := plan.Plan{Actions: []plan.Action{
		{Kind: plan.Install, Name: "dplyr", Node: localNode("dplyr", "1.1.3", src)},
	}}

	report, err := pool.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.AllSucceeded {
		t.Fatalf("expected success, got %+v", report.Results)
	}
	if len(report.Results) != 1 || report.Results[0].Status != Published {
		t.Fatalf("expected a single Published result, got %+v", report.Results)
	}
	if _, err := os.Stat(filepath.Join(libDir, "dplyr", "DESCRIPTION")); err != nil {
		t.Errorf("expected published package in library, got %v", err)
	}
}

func TestRunReusesBinaryCacheOnSecondInstall(t *testing.T) {
	src := newLocalSourceDir(t, "dplyr", "1.1.3")
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()

	build := func(runner InstallRunner) Report {
		libDir := filepath.Join(t.TempDir(), "library")
		if err := os.MkdirAll(filepath.Join(libDir, library.StagingDirName), 0o755); err != nil {
			t.Fatal(err)
		}
		pool := &Pool{
			Workers: 1, Dispatcher: source.NewDispatcher(store), Cache: store, Runner: runner,
			LibraryDir: libDir, EngineVersion: "4.3.1", Arch: "linux-amd64", Fingerprint: "fp1",
		}
		p := plan.Plan{Actions: []plan.Action{
			{Kind: plan.Install, Name: "dplyr", Node: localNode("dplyr", "1.1.3", src)},
		}}
		report, err := pool.Run(context.Background(), p)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return report
	}

	r1 := build(fakeRunner{})
	if !r1.AllSucceeded {
		t.Fatalf("first install failed: %+v", r1.Results)
	}

	// The second pool's runner would fail every install; reusing the
	// binary cache from the first run should still publish successfully.
	r2 := build(fakeRunner{fail: true})
	if !r2.AllSucceeded || r2.Results[0].Status != Published {
		t.Fatalf("expected cache hit to bypass the failing runner, got %+v", r2.Results)
	}
}

func TestRunFailsDependentsWhenPredecessorFails(t *testing.T) {
	srcA := newLocalSourceDir(t, "a", "1.0.0")
	srcB := newLocalSourceDir(t, "b", "1.0.0")
	pool, _ := newPool(t, fakeRunner{fail: true})

	p := plan.Plan{Actions: []plan.Action{
		{Kind: plan.Install, Name: "a", Node: localNode("a", "1.0.0", srcA)},
		{Kind: plan.Install, Name: "b", Node: localNode("b", "1.0.0", srcB, "a")},
	}}

	report, err := pool.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.AllSucceeded {
		t.Fatal("expected failure to propagate")
	}

	byName := map[string]Result{}
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	if byName["a"].Status != Failed {
		t.Errorf("a.Status = %v, want Failed", byName["a"].Status)
	}
	if byName["b"].Status != Skipped {
		t.Errorf("b.Status = %v, want Skipped", byName["b"].Status)
	}
}

func TestRunHandlesKeepAndRemoveActions(t *testing.T) {
	pool, libDir := newPool(t, fakeRunner{})
	stale := filepath.Join(libDir, "stale")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}

	p := plan.Plan{Actions: []plan.Action{
		{Kind: plan.Keep, Name: "kept"},
		{Kind: plan.Remove, Name: "stale"},
	}}

	report, err := pool.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.AllSucceeded {
		t.Fatalf("expected success, got %+v", report.Results)
	}
	byName := map[string]Result{}
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	if byName["kept"].Status != Kept {
		t.Errorf("kept.Status = %v, want Kept", byName["kept"].Status)
	}
	if byName["stale"].Status != Removed {
		t.Errorf("stale.Status = %v, want Removed", byName["stale"].Status)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected stale package directory to be removed")
	}
}

func TestRunFailsWhenLibraryAlreadyLocked(t *testing.T) {
	pool, libDir := newPool(t, fakeRunner{})
	unlock, err := synclock.New(libDir).Acquire()
	if err != nil {
		t.Fatalf("priming lock: %v", err)
	}
	defer unlock()

	_, err = pool.Run(context.Background(), plan.Plan{})
	if err == nil {
		t.Fatal("expected ErrLibraryBusy when another sync holds the lock")
	}
}
