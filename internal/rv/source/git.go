package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
)

// GitHandler clones (or updates an existing clone of) a git remote, checks
// out the requested ref, and resolves it to a concrete commit SHA -- the
// remote-tier fallback source handler.
type GitHandler struct {
	Cache *cache.Store

	// DisableSubmoduleUpdate mirrors RV_SUBMODULE_UPDATE_DISABLE: when
	// true, ensureClone skips the defensive "git submodule update"
	// Masterminds/vcs itself never attempts.
	DisableSubmoduleUpdate bool
}

func NewGitHandler(c *cache.Store) *GitHandler {
	return &GitHandler{Cache: c}
}

// ensureClone fetches or updates the shared cache clone of ref.GitRepo and
// checks out ref.GitRef, returning the resolved commit SHA.
func (h *GitHandler) ensureClone(ctx context.Context, ref Ref) (sha string, err error) {
	local := h.Cache.GitDir(ref.GitRepo)

	r, err := vcs.NewGitRepo(ref.GitRepo, local)
	if err != nil {
		return "", errors.Wrapf(err, "preparing git source for %s", ref.Name)
	}

	if r.CheckLocal() {
		if err := r.Update(); err != nil {
			return "", &rverrors.RepositoryFetchFailed{RepoURL: ref.GitRepo, Cause: err}
		}
	} else {
		if err := r.Get(); err != nil {
			return "", &rverrors.RepositoryFetchFailed{RepoURL: ref.GitRepo, Cause: err}
		}
	}

	checkoutRef := ref.GitRef
	if checkoutRef == "" {
		checkoutRef, err = r.Current()
		if err != nil {
			return "", &rverrors.GitRefUnresolved{Package: ref.Name, Repo: ref.GitRepo, Ref: "HEAD"}
		}
	} else if err := r.UpdateVersion(checkoutRef); err != nil {
		return "", &rverrors.GitRefUnresolved{Package: ref.Name, Repo: ref.GitRepo, Ref: checkoutRef}
	}

	sha, err = r.Current()
	if err != nil || sha == "" {
		return "", &rverrors.GitRefUnresolved{Package: ref.Name, Repo: ref.GitRepo, Ref: checkoutRef}
	}

	if !h.DisableSubmoduleUpdate {
		// Masterminds/vcs checks out the ref but never touches
		// submodules; run the update ourselves the way a plain git
		// checkout would, tolerating a repo with none.
		updateSubmodules(local)
	}

	return sha, nil
}

// updateSubmodules runs "git submodule update --init --recursive" in a
// clone directory, ignoring failure: a repo with no .gitmodules exits
// non-zero on some git versions, and submodule fetch failures shouldn't
// block resolution of a package that doesn't actually need them.
func updateSubmodules(dir string) {
	cmd := exec.Command("git", "submodule", "update", "--init", "--recursive")
	cmd.Dir = dir
	_ = cmd.Run()
}

func (h *GitHandler) Describe(ctx context.Context, ref Ref) (*descriptor.Descriptor, error) {
	sha, err := h.ensureClone(ctx, ref)
	if err != nil {
		return nil, err
	}
	local := h.Cache.GitDir(ref.GitRepo)
	path := filepath.Join(local, ref.Subdir, "DESCRIPTION")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading DESCRIPTION from %s", ref.GitRepo)
	}
	defer f.Close()
	d, err := descriptor.Parse(f)
	if err == nil {
		d.ResolvedRef = sha
	}
	return d, err
}

// Stage checks out the resolved ref and copies the working tree (honoring
// Subdir) into destDir. The returned Staged.Digest carries the resolved
// commit SHA rather than a content hash -- git sources are identified by
// commit, not archive digest (the ResolvedNode.GitSHA).
func (h *GitHandler) Stage(ctx context.Context, ref Ref, destDir string) (Staged, error) {
	sha, err := h.ensureClone(ctx, ref)
	if err != nil {
		return Staged{}, err
	}
	local := h.Cache.GitDir(ref.GitRepo)
	src := filepath.Join(local, ref.Subdir)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Staged{}, err
	}
	lh := NewLocalHandler()
	if _, err := lh.Stage(ctx, Ref{LocalPath: src, Name: ref.Name}, destDir); err != nil {
		return Staged{}, errors.Wrapf(err, "exporting git working tree for %s", ref.Name)
	}
	return Staged{Dir: destDir, Digest: sha}, nil
}

var _ Handler = (*GitHandler)(nil)
