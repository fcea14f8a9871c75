package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"

	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
)

// LocalHandler serves package descriptors and a build source tree directly
// out of a path on disk (manifest `path = "..."` dependencies). There is no
// archive, no digest, and no cache involvement: the directory itself is the
// source of truth, always re-read.
type LocalHandler struct{}

func NewLocalHandler() *LocalHandler { return &LocalHandler{} }

func (h *LocalHandler) Describe(ctx context.Context, ref Ref) (*descriptor.Descriptor, error) {
	path := filepath.Join(ref.LocalPath, "DESCRIPTION")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	defer f.Close()
	return descriptor.Parse(f)
}

// Stage copies the local directory tree into destDir via shutil's
// copytree, so the sync worker pool's staged build never mutates the
// developer's working copy in place. Any existing destDir is removed
// first, since CopyTree creates the destination itself.
func (h *LocalHandler) Stage(ctx context.Context, ref Ref, destDir string) (Staged, error) {
	if err := os.RemoveAll(destDir); err != nil {
		return Staged{}, err
	}
	if err := shutil.CopyTree(ref.LocalPath, destDir, nil); err != nil {
		return Staged{}, errors.Wrapf(err, "copying local source %s", ref.LocalPath)
	}
	return Staged{Dir: destDir}, nil
}

var _ Handler = (*LocalHandler)(nil)
