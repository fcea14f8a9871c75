// Package app wires the hard core's subsystems together into the
// operations the CLI surface exposes: plan, sync, add, upgrade,
// tree, library, cache, summary. It splits state into a Ctx/Project
// pair: Project is per-run loaded state, Ctx is the process-wide
// cache/loggers/env handle every operation shares.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/lockfile"
	"github.com/rainoffallingstar/rv/internal/rv/library"
	"github.com/rainoffallingstar/rv/internal/rv/manifest"
	"github.com/rainoffallingstar/rv/internal/rv/plan"
	"github.com/rainoffallingstar/rv/internal/rv/registry"
	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/rvctx"
	"github.com/rainoffallingstar/rv/internal/rv/source"
	"github.com/rainoffallingstar/rv/internal/rv/sync"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// Ctx is the process-wide handle shared by every operation: the disk
// cache, environment knobs, and loggers.
type Ctx struct {
	Cache   *cache.Store
	Env     rvctx.Env
	Loggers *rvctx.Loggers
	Arch    string
}

// NewCtx opens the disk cache at its default (or RV_CACHE_DIR-overridden)
// location and bundles it with the resolved environment and loggers.
func NewCtx(loggers *rvctx.Loggers) (*Ctx, error) {
	env := rvctx.LoadEnv()
	root := env.CacheDir
	if root == "" {
		root = cache.DefaultRoot()
	}
	store, err := cache.Open(root)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache")
	}
	return &Ctx{Cache: store, Env: env, Loggers: loggers, Arch: runtime.GOOS + "-" + runtime.GOARCH}, nil
}

func (c *Ctx) Close() error { return c.Cache.Close() }

// Project is one project's loaded manifest, prior lockfile (if any), and
// derived paths -- the per-run state every operation consumes.
type Project struct {
	AbsRoot    string
	Manifest   *manifest.Manifest
	Lockfile   *lockfile.Lockfile
	LibraryDir string
}

// Load reads rv.toml (and rv.lock, if use_lockfile and present) from dir.
// arch is folded into the namespaced library path:
// library/<engine-version>/<arch>/<package>/.
func Load(dir, arch string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	mf, err := os.Open(filepath.Join(abs, manifest.FileName))
	if err != nil {
		return nil, errors.Wrapf(err, "no %s found in %s", manifest.FileName, abs)
	}
	defer mf.Close()
	m, err := manifest.Read(mf)
	if err != nil {
		return nil, err
	}

	p := &Project{AbsRoot: abs, Manifest: m}
	libRoot := m.Library
	override := libRoot != ""
	if libRoot == "" {
		libRoot = filepath.Join(abs, "library")
	} else if !filepath.IsAbs(libRoot) {
		libRoot = filepath.Join(abs, libRoot)
	}
	p.LibraryDir = library.Path(libRoot, m.EngineVersion, arch, override)

	if m.UseLockfile {
		lfPath := filepath.Join(abs, m.LockfileName)
		if lf, err := readLockfile(lfPath); err == nil {
			p.Lockfile = lf
		} else if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
	}
	return p, nil
}

func readLockfile(path string) (*lockfile.Lockfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lf, err := lockfile.ReadBinary(f)
	if err != nil {
		return nil, err
	}
	return &lf, nil
}

// WriteLockfile persists lf to the project's configured lockfile path,
// honoring use_lockfile: the lockfile is written if and only if every
// Install action succeeded or was already a Keep.
func (p *Project) WriteLockfile(lf lockfile.Lockfile) error {
	if !p.Manifest.UseLockfile {
		return nil
	}
	path := filepath.Join(p.AbsRoot, p.Manifest.LockfileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := lockfile.WriteBinary(f, lf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// FreshnessWindow is the default repository-index freshness window; not
// currently exposed as a manifest/env override knob.
const FreshnessWindow = 24 * time.Hour

// Resolve fetches every declared repository index and runs the resolver
// to completion, optionally disabling the lockfile tier for
// an `upgrade` run.
func Resolve(ctx context.Context, c *Ctx, p *Project, fullUpgrade bool) (*resolve.Resolution, error) {
	fetcher := registry.NewFetcher(c.Cache, FreshnessWindow)
	repoInputs := make([]registry.Repository, len(p.Manifest.Repositories))
	for i, r := range p.Manifest.Repositories {
		repoInputs[i] = registry.Repository{Alias: r.Alias, URL: r.URL, Format: r.Format, ForceSource: r.ForceSource}
	}
	indexes, errs := registry.FetchAll(ctx, fetcher, repoInputs, p.Manifest.EngineVersion, c.Arch)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	tiers := make([]resolve.RepoTier, len(p.Manifest.Repositories))
	for i, r := range p.Manifest.Repositories {
		tiers[i] = resolve.RepoTier{Alias: r.Alias, Index: indexes[i], ForceSource: r.ForceSource}
	}

	var lockedMap map[string]resolve.LockedNode
	if p.Lockfile != nil {
		lockedMap = p.Lockfile.AsMap()
	}

	dispatcher := source.NewDispatcherWithOptions(c.Cache, c.Env.SubmoduleUpdateDisable)

	items := make([]resolve.WorkItem, 0, len(p.Manifest.Dependencies))
	for _, d := range p.Manifest.Dependencies {
		wi := resolve.WorkItem{
			Name:               d.Name,
			Req:                d.Req,
			Parent:             "<manifest>",
			RepositoryPin:      d.Repository,
			ForceSource:        d.ForceSource,
			InstallSuggestions: d.InstallSuggestions,
			DependenciesOnly:   d.DependenciesOnly,
		}
		switch d.Kind {
		case manifest.SourcePath:
			wi.Pref = &resolve.Preferred{Path: d.Path}
		case manifest.SourceGit:
			kind, ref := source.RefBranch, d.Branch
			if d.Tag != "" {
				kind, ref = source.RefTag, d.Tag
			} else if d.Commit != "" {
				kind, ref = source.RefCommit, d.Commit
			}
			wi.Pref = &resolve.Preferred{Git: &resolve.GitPref{Repo: d.GitRepo, Ref: ref, RefKind: kind, Subdir: d.Subdir}}
		case manifest.SourceURL:
			wi.Pref = &resolve.Preferred{URL: d.URL}
		}
		items = append(items, wi)
	}

	in := resolve.Input{
		Dependencies:          items,
		Repositories:          tiers,
		Builtins:              Builtins(p.Manifest.EngineVersion),
		Lockfile:              lockedMap,
		FullUpgrade:           fullUpgrade,
		PreferRepositoriesFor: p.Manifest.PreferRepositoriesFor,
		Dispatcher:            dispatcher,
	}
	return resolve.Resolve(ctx, in)
}

// Plan runs Resolve and folds the result against the current library
// state into a build plan.
func Plan(ctx context.Context, c *Ctx, p *Project, fullUpgrade bool) (*resolve.Resolution, plan.Plan, error) {
	res, err := Resolve(ctx, c, p, fullUpgrade)
	if err != nil {
		return nil, plan.Plan{}, err
	}
	installed, err := library.Scan(p.LibraryDir)
	if err != nil {
		return nil, plan.Plan{}, err
	}
	return res, plan.Build(res, installed), nil
}

// Sync runs a plan to completion, then persists the new lockfile iff the
// whole plan succeeded.
func Sync(ctx context.Context, c *Ctx, p *Project, res *resolve.Resolution, pl plan.Plan, runner sync.InstallRunner) (sync.Report, error) {
	if err := os.MkdirAll(filepath.Join(p.LibraryDir, library.StagingDirName), 0o755); err != nil {
		return sync.Report{}, err
	}

	probe := plan.NewOpenFileProbe(c.Env.NoCheckOpenFile)
	if err := plan.CheckInUse(pl, func(name string) string { return filepath.Join(p.LibraryDir, name) }, probe); err != nil {
		return sync.Report{}, err
	}

	pool := &sync.Pool{
		Workers:       c.Env.CopyThreads,
		Dispatcher:    source.NewDispatcherWithOptions(c.Cache, c.Env.SubmoduleUpdateDisable),
		Cache:         c.Cache,
		Runner:        runner,
		Loggers:       c.Loggers,
		LibraryDir:    p.LibraryDir,
		EngineVersion: p.Manifest.EngineVersion,
		Arch:          c.Arch,
		Fingerprint:   p.Manifest.EngineVersion + "-" + c.Arch,
	}
	report, err := pool.Run(ctx, pl)
	if err != nil {
		return report, err
	}
	if report.AllSucceeded {
		lf := lockfile.FromResolution(res, p.Manifest.EngineVersion, c.Arch)
		if err := p.WriteLockfile(lf); err != nil {
			return report, errors.Wrap(err, "writing lockfile")
		}
	}
	return report, nil
}

// Builtins returns the set of packages bundled with the given engine
// version, pre-satisfied and never installed. A real build would probe
// the configured engine; this ships the long-stable base/recommended set
// common to all modern engine releases instead.
func Builtins(engineVersion string) map[string]version.Version {
	names := []string{
		"base", "compiler", "datasets", "grDevices", "graphics", "grid",
		"methods", "parallel", "splines", "stats", "stats4", "tcltk",
		"tools", "utils",
	}
	out := make(map[string]version.Version, len(names))
	for _, n := range names {
		out[n] = version.MustParse(engineVersion)
	}
	return out
}

// Summary is a small machine-consumable snapshot for the `summary` CLI
// surface: counts, not full detail.
type Summary struct {
	Resolved  int
	ToInstall int
	ToRemove  int
	Kept      int
	Cycles    int
}

// Summarize reduces a Plan to the counts `rv summary` reports.
func Summarize(res *resolve.Resolution, pl plan.Plan) Summary {
	s := Summary{Resolved: len(res.Nodes), Cycles: len(res.Cycles)}
	for _, a := range pl.Actions {
		switch a.Kind {
		case plan.Install:
			s.ToInstall++
		case plan.Remove:
			s.ToRemove++
		case plan.Keep:
			s.Kept++
		}
	}
	return s
}

// Tree renders a one-line-per-node dependency listing in resolution
// order, annotated with which tier supplied it.
func Tree(res *resolve.Resolution) []string {
	lines := make([]string, 0, len(res.Order))
	for _, name := range res.Order {
		n := res.Nodes[name]
		lines = append(lines, fmt.Sprintf("%s %s (%s)", n.Name, n.Version, res.Trail[name]))
	}
	return lines
}
