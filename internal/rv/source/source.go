// Package source implements the four kinds of source handler the resolver
// dispatches across: repository, git, local path, and URL. Each handler is
// invoked twice over its lifetime -- once by the resolver for metadata
// only (Describe), and once by the sync worker pool for a full fetch
// (Stage).
package source

import (
	"context"
	"io"

	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
)

// Ref identifies exactly where one package's source lives, regardless of
// which handler will resolve it.
type Ref struct {
	Kind        Kind
	Name        string
	RepoURL     string // Kind == Repo: the owning repository's URL
	DownloadURL string // Kind == Repo or URL: the archive/file location
	ExpectedSum string // Kind == Repo or URL: the recorded digest, if any
	GitRepo     string // Kind == Git
	GitRef      string // Kind == Git: branch, tag, or commit
	GitRefKind  RefKind
	Subdir      string // Kind == Git: descriptor lives under this subpath
	LocalPath   string // Kind == Local
}

// Kind is which of the four source handlers owns a Ref. Builtin is the
// odd one out: engine-bundled packages have no handler and are never
// fetched or installed, only noted by the resolver.
type Kind int

const (
	Repo Kind = iota
	Git
	Local
	URL

	Builtin Kind = -1
)

func (k Kind) String() string {
	switch k {
	case Repo:
		return "repository"
	case Git:
		return "git"
	case Local:
		return "local"
	case URL:
		return "url"
	case Builtin:
		return "builtin"
	default:
		return "unknown"
	}
}

// RefKind distinguishes the three ways a git dependency may pin a ref.
type RefKind int

const (
	RefBranch RefKind = iota
	RefTag
	RefCommit
)

// Staged is the outcome of a full fetch: a directory on disk containing
// the package's prepared source (or binary) tree, plus the content digest
// of what was fetched (when the handler can compute one).
type Staged struct {
	Dir    string
	Digest string
	Binary bool
}

// Handler fetches and stages a package from one source kind.
type Handler interface {
	// Describe performs the lightweight fetch the resolver needs: enough
	// to read the package's descriptor, without necessarily retaining the
	// full archive.
	Describe(ctx context.Context, ref Ref) (*descriptor.Descriptor, error)

	// Stage performs the full fetch the sync worker pool needs, writing
	// the prepared source tree under destDir.
	Stage(ctx context.Context, ref Ref, destDir string) (Staged, error)
}

// openDescriptor is a small shared helper: find and parse the DESCRIPTION
// file within a staged directory tree, honoring an optional subdir.
func openDescriptor(open func(name string) (io.ReadCloser, error), subdir string) (*descriptor.Descriptor, error) {
	path := "DESCRIPTION"
	if subdir != "" {
		path = subdir + "/" + path
	}
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return descriptor.Parse(f)
}
