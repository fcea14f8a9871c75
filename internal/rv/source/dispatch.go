package source

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/descriptor"
)

// Dispatcher routes a Ref to the Handler that owns its Kind, so resolve
// and sync can hold a single value rather than wiring up all four
// handlers themselves.
type Dispatcher struct {
	Repo  Handler
	Git   Handler
	Local Handler
	URL   Handler
}

// NewDispatcher wires the four handlers against a shared cache.
func NewDispatcher(c *cache.Store) *Dispatcher {
	return &Dispatcher{
		Repo:  NewRepoHandler(c),
		Git:   NewGitHandler(c),
		Local: NewLocalHandler(),
		URL:   NewURLHandler(c),
	}
}

// NewDispatcherWithOptions wires the four handlers the same way
// NewDispatcher does, additionally honoring RV_SUBMODULE_UPDATE_DISABLE
// on the git handler.
func NewDispatcherWithOptions(c *cache.Store, disableSubmoduleUpdate bool) *Dispatcher {
	d := NewDispatcher(c)
	d.Git.(*GitHandler).DisableSubmoduleUpdate = disableSubmoduleUpdate
	return d
}

func (d *Dispatcher) handlerFor(kind Kind) (Handler, error) {
	switch kind {
	case Repo:
		return d.Repo, nil
	case Git:
		return d.Git, nil
	case Local:
		return d.Local, nil
	case URL:
		return d.URL, nil
	default:
		return nil, errors.Errorf("no source handler for kind %s", kind)
	}
}

func (d *Dispatcher) Describe(ctx context.Context, ref Ref) (*descriptor.Descriptor, error) {
	h, err := d.handlerFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	return h.Describe(ctx, ref)
}

func (d *Dispatcher) Stage(ctx context.Context, ref Ref, destDir string) (Staged, error) {
	h, err := d.handlerFor(ref.Kind)
	if err != nil {
		return Staged{}, err
	}
	return h.Stage(ctx, ref, destDir)
}

var _ Handler = (*Dispatcher)(nil)
