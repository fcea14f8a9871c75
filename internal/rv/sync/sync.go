// Package sync implements the parallel install worker pool:
// a fixed-size pool consumes a plan.Plan's Install actions, gated by a
// dependency-count semaphore per node so a dependent never starts before
// its hard/linking predecessors have published, materializing each
// successful build through the Disk Cache. The pool does not write the
// lockfile; it reports AllSucceeded, on which the caller decides.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	stdsync "sync"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/library"
	"github.com/rainoffallingstar/rv/internal/rv/plan"
	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/rvctx"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/synclock"
)

// Status is the terminal outcome recorded for one plan action.
type Status int

const (
	Published Status = iota
	Kept
	Removed
	Failed
	Skipped
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Published:
		return "published"
	case Kept:
		return "kept"
	case Removed:
		return "removed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is one package's outcome from a Run.
type Result struct {
	Name    string
	Status  Status
	Method  cache.Method
	LogPath string
	Err     error
}

// Report is the complete outcome of a sync run.
type Report struct {
	Results      []Result
	AllSucceeded bool
}

// Pool runs a Plan's actions.
type Pool struct {
	Workers       int // 0 means runtime.NumCPU()
	Dispatcher    *source.Dispatcher
	Cache         *cache.Store
	Runner        InstallRunner
	Loggers       *rvctx.Loggers
	LibraryDir    string
	EngineVersion string
	Arch          string
	Fingerprint   string // build fingerprint used to key the binary cache; app.Sync sets engine version and arch, with no compile flags
}

type nodeState struct {
	done   chan struct{}
	failed bool
}

// Run executes p to completion or until ctx is cancelled. After
// cancellation no worker starts a new install; an install already running
// receives the cancelled ctx, and ExecRunner kills its subprocess at that
// point rather than letting the step finish.
func (pool *Pool) Run(ctx context.Context, p plan.Plan) (Report, error) {
	workers := pool.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	unlock, err := synclock.New(pool.LibraryDir).Acquire()
	if err != nil {
		return Report{}, errors.Wrap(err, "sync")
	}
	defer unlock()

	ctx, cancel := constext.Cons(ctx, context.Background())
	defer cancel()

	states := map[string]*nodeState{}
	for _, a := range p.Actions {
		states[a.Name] = &nodeState{done: make(chan struct{})}
	}

	sem := make(chan struct{}, workers)
	results := make([]Result, len(p.Actions))
	var wg stdsync.WaitGroup
	var mu stdsync.Mutex
	var anyFailed bool

	for i, a := range p.Actions {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := states[a.Name]
			defer close(st.done)

			r := pool.runOne(ctx, sem, states, a)
			results[i] = r
			if r.Status == Failed || r.Status == Skipped || r.Status == Cancelled {
				st.failed = true
				mu.Lock()
				anyFailed = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return Report{Results: results, AllSucceeded: !anyFailed}, nil
}

// runOne handles exactly one plan.Action: Remove executes immediately
// (nothing depends on a removal completing), Keep is a no-op success, and
// Install waits on its predecessors before doing real work.
func (pool *Pool) runOne(ctx context.Context, sem chan struct{}, states map[string]*nodeState, a plan.Action) Result {
	switch a.Kind {
	case plan.Keep:
		return Result{Name: a.Name, Status: Kept}
	case plan.Remove:
		if err := os.RemoveAll(filepath.Join(pool.LibraryDir, a.Name)); err != nil {
			return Result{Name: a.Name, Status: Failed, Err: err}
		}
		return Result{Name: a.Name, Status: Removed}
	}

	if failedDep, ok := pool.awaitDeps(ctx, states, a.Node); !ok {
		if failedDep != "" {
			return Result{Name: a.Name, Status: Skipped, Err: errors.Errorf("dependency %s failed", failedDep)}
		}
		return Result{Name: a.Name, Status: Cancelled, Err: ctx.Err()}
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return Result{Name: a.Name, Status: Cancelled, Err: ctx.Err()}
	}

	return pool.install(ctx, a)
}

// awaitDeps blocks until every predecessor of node has published (or the
// context is cancelled). It returns the name of the first failed
// predecessor found, or ok=true if all predecessors are clear.
func (pool *Pool) awaitDeps(ctx context.Context, states map[string]*nodeState, node *resolve.ResolvedNode) (string, bool) {
	for _, dep := range node.Deps {
		st, tracked := states[dep]
		if !tracked {
			continue // not part of this plan (e.g. a builtin): always available
		}
		select {
		case <-st.done:
			if st.failed {
				return dep, false
			}
		case <-ctx.Done():
			return "", false
		}
	}
	return "", true
}

func (pool *Pool) install(ctx context.Context, a plan.Action) Result {
	if err := ctx.Err(); err != nil {
		return Result{Name: a.Name, Status: Cancelled, Err: err}
	}

	node := a.Node
	stagingRoot := filepath.Join(pool.LibraryDir, library.StagingDirName)
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}
	stageDir, err := os.MkdirTemp(stagingRoot, a.Name+"-*")
	if err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}
	defer os.RemoveAll(stageDir)

	ref := refForNode(node)
	staged, err := pool.Dispatcher.Stage(ctx, ref, stageDir)
	if err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}

	binDir := pool.Cache.BinaryDir(pool.EngineVersion, pool.Arch, a.Name, node.Version.String(), pool.Fingerprint)
	destDir := filepath.Join(pool.LibraryDir, a.Name)

	if !node.ForceSource {
		if fi, err := os.Stat(binDir); err == nil && fi.IsDir() {
			return pool.publish(a, binDir, destDir, staged, false)
		}
	}

	logPath := filepath.Join(pool.Cache.Root, "logs", fmt.Sprintf("%s-%s.log", a.Name, node.Version.String()))
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}

	exitCode, output, err := pool.Runner.Install(ctx, staged.Dir, binDir)
	if werr := os.WriteFile(logPath, output, 0o644); werr != nil && pool.Loggers != nil {
		pool.Loggers.Errf("writing log for %s: %v", a.Name, werr)
	}
	if err != nil {
		return Result{Name: a.Name, Status: Failed, LogPath: logPath, Err: err}
	}
	if exitCode != 0 {
		// A partial build output must not be mistaken for a cached binary
		// on the next run.
		_ = os.RemoveAll(binDir)
		return Result{
			Name:    a.Name,
			Status:  Failed,
			LogPath: logPath,
			Err:     &rverrors.BuildFailed{Package: a.Name, ExitCode: exitCode, LogPath: logPath},
		}
	}

	return pool.publish(a, binDir, destDir, staged, true)
}

// publish promotes a built tree into the library: materialize into a
// fresh directory under .staging, record install metadata, then replace
// the final location in one rename -- the commit point a cancellation
// never rolls back. builtFromSource records whether this sync ran the
// install command itself or reused a cached binary, the distinction the
// planner's force_source trigger keys on.
func (pool *Pool) publish(a plan.Action, binDir, destDir string, staged source.Staged, builtFromSource bool) Result {
	if _, err := os.Stat(filepath.Join(binDir, "DESCRIPTION")); err != nil {
		_ = os.RemoveAll(binDir)
		return Result{Name: a.Name, Status: Failed, Err: errors.Errorf("install for %s produced no DESCRIPTION", a.Name)}
	}

	promoteDir, err := os.MkdirTemp(filepath.Join(pool.LibraryDir, library.StagingDirName), a.Name+"-promote-*")
	if err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}
	defer os.RemoveAll(promoteDir)

	target := filepath.Join(promoteDir, a.Name)
	method, err := pool.Cache.Materialize(binDir, target)
	if err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}

	meta := library.InstallMeta{Source: a.Node.Source, Digest: a.Node.Digest, BuiltFromSource: builtFromSource}
	if meta.Digest == "" {
		meta.Digest = staged.Digest
	}
	if fp, err := library.Fingerprint(target); err == nil {
		meta.Fingerprint = fp
	}
	if err := library.WriteMeta(target, meta); err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}

	if err := os.RemoveAll(destDir); err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}
	if err := os.Rename(target, destDir); err != nil {
		return Result{Name: a.Name, Status: Failed, Err: err}
	}
	return Result{Name: a.Name, Status: Published, Method: method}
}

func refForNode(node *resolve.ResolvedNode) source.Ref {
	gitRef := node.GitRef
	if node.GitSHA != "" {
		gitRef = node.GitSHA // pin to the exact commit resolve() recorded, not a moving branch/tag
	}
	ref := source.Ref{
		Kind:       node.Source,
		Name:       node.Name,
		GitRepo:    node.GitRepo,
		GitRef:     gitRef,
		GitRefKind: source.RefCommit,
		Subdir:     node.Subdir,
		LocalPath:  node.LocalPath,
	}
	switch node.Source {
	case source.Repo, source.URL:
		ref.DownloadURL = node.URL
		ref.ExpectedSum = node.Digest
	}
	return ref
}
