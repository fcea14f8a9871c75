// Package registry fetches, parses, and caches per-repository package
// catalogs. Two wire formats are supported against one shared
// RepositoryIndex shape: a line-oriented deb822-style paragraph format
// (primary) and a JSON index (secondary). Both funnel through the disk
// cache for freshness and storage.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dpeckett/deb822"
	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

// Entry is one available (version, download, digest) tuple for a package.
type Entry struct {
	Version version.Version
	URL     string
	Digest  string // sha256 hex; may be empty if the repo doesn't publish one
	Binary  bool
}

// Package is one name's full version history within a repository.
type Package struct {
	Name     string
	Latest   version.Version
	Versions []Entry
}

// Index is one repository's parsed catalog.
type Index struct {
	RepoURL   string
	Alias     string
	Engine    string
	Arch      string
	FetchedAt time.Time
	Packages  map[string]*Package
}

// Best returns the best entry in pkg satisfying req: the highest
// satisfying version, with a binary entry beating a source entry of the
// same version.
func (p *Package) Best(req version.Requirement) (Entry, bool) {
	var best *Entry
	for i := range p.Versions {
		e := p.Versions[i]
		if !req.Satisfies(e.Version) {
			continue
		}
		if best == nil {
			best = &p.Versions[i]
			continue
		}
		cmp := version.Compare(e.Version, best.Version)
		switch {
		case cmp > 0:
			best = &p.Versions[i]
		case cmp == 0 && e.Binary && !best.Binary:
			best = &p.Versions[i]
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return *best, true
}

type rawParagraph struct {
	Package   string `json:"Package"`
	Version   string `json:"Version"`
	Path      string `json:"Path"`
	MD5sum    string `json:"MD5sum"`
	SHA256sum string `json:"SHA256sum"`
	Built     string `json:"Built"`
}

// ParseParagraph parses wire format (a): a concatenation of "Key: value"
// paragraphs separated by blank lines, one paragraph per (package, version).
func ParseParagraph(r io.Reader) (map[string]*Package, error) {
	dec, err := deb822.NewDecoder(r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening paragraph repository index")
	}
	var raws []rawParagraph
	if err := dec.Decode(&raws); err != nil {
		return nil, errors.Wrap(err, "parsing paragraph repository index")
	}
	out := map[string]*Package{}
	for _, raw := range raws {
		if raw.Package == "" {
			continue
		}
		v, err := version.Parse(raw.Version)
		if err != nil {
			continue // skip unparsable entries rather than failing the whole index
		}
		entry := Entry{
			Version: v,
			URL:     raw.Path,
			Digest:  raw.SHA256sum,
			Binary:  isBinaryBuilt(raw.Built),
		}
		appendEntry(out, raw.Package, entry)
	}
	return out, nil
}

// jsonEntry mirrors one version entry of wire format (b). The index only
// needs Version/Path/SHA256/Binary to pick a candidate (§4.3); the
// depends/imports/linking_to/suggests/enhances fields present on the wire
// describe dependency edges that are instead read from the package's own
// descriptor once a candidate is chosen (§4.2), so they are not unpacked
// here.
type jsonEntry struct {
	Version string `json:"version"`
	Path    string `json:"download_path"`
	SHA256  string `json:"sha256"`
	Binary  bool   `json:"binary"`
}

// ParseJSON parses wire format (b): a JSON object mapping package name to
// an array of version entries, used by one known repository family.
func ParseJSON(r io.Reader) (map[string]*Package, error) {
	var raw map[string][]jsonEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parsing JSON repository index")
	}
	out := map[string]*Package{}
	for name, entries := range raw {
		for _, e := range entries {
			v, err := version.Parse(e.Version)
			if err != nil {
				continue
			}
			appendEntry(out, name, Entry{
				Version: v,
				URL:     e.Path,
				Digest:  e.SHA256,
				Binary:  e.Binary,
			})
		}
	}
	return out, nil
}

func appendEntry(out map[string]*Package, name string, e Entry) {
	p, ok := out[name]
	if !ok {
		p = &Package{Name: name}
		out[name] = p
	}
	p.Versions = append(p.Versions, e)
	if p.Latest.IsZero() || version.Compare(e.Version, p.Latest) > 0 {
		p.Latest = e.Version
	}
}

// isBinaryBuilt reports whether a paragraph's "Built" field marks it as a
// prebuilt binary entry rather than a source tarball: R's PACKAGES files
// only populate Built for binary repositories.
func isBinaryBuilt(built string) bool {
	return built != "" && built != "source" && built != "Source"
}

// Format discriminates which wire format a repository speaks, so that a
// RepositoryIndex key (repository URL, architecture, engine version)
// always maps to the same parsed shape regardless of how it was fetched.
type Format int

const (
	FormatParagraph Format = iota
	FormatJSON
)

// Fetcher downloads and parses a repository's index, consulting and
// populating the disk cache along the way.
type Fetcher struct {
	HTTP  *http.Client
	Cache *cache.Store
	Fresh time.Duration
}

// NewFetcher returns a Fetcher using a default HTTP client and the given
// cache store and freshness window.
func NewFetcher(c *cache.Store, fresh time.Duration) *Fetcher {
	return &Fetcher{HTTP: http.DefaultClient, Cache: c, Fresh: fresh}
}

// Fetch returns the Index for one repository, consulting the cache first
// and falling back to a network fetch when the cached entry is absent,
// stale, or previously failed to parse. It retries once on a corrupt parse
// before surfacing RepositoryFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, alias, repoURL string, format Format, engine, arch string) (*Index, error) {
	key := cache.IndexKey(repoURL, engine, arch)

	if raw, meta, ok, err := f.Cache.ReadIndex(key); err == nil && ok {
		if time.Since(meta.FetchedAt) < f.Fresh && !meta.CorruptLastRead {
			if pkgs, perr := decode(raw, format); perr == nil {
				return &Index{RepoURL: repoURL, Alias: alias, Engine: engine, Arch: arch, FetchedAt: meta.FetchedAt, Packages: pkgs}, nil
			}
		}
	}

	raw, err := f.download(ctx, repoURL)
	if err != nil {
		return nil, &rverrors.RepositoryFetchFailed{RepoURL: repoURL, Cause: err}
	}

	pkgs, err := decode(raw, format)
	if err != nil {
		_ = f.Cache.MarkCorrupt(key)
		return nil, &rverrors.RepositoryFetchFailed{RepoURL: repoURL, Cause: errors.Wrap(err, "parsing index after fresh download")}
	}

	now := time.Now()
	if err := f.Cache.WriteIndex(key, raw, now); err != nil {
		return nil, errors.Wrap(err, "caching repository index")
	}

	return &Index{RepoURL: repoURL, Alias: alias, Engine: engine, Arch: arch, FetchedAt: now, Packages: pkgs}, nil
}

func decode(raw []byte, format Format) (map[string]*Package, error) {
	switch format {
	case FormatJSON:
		return ParseJSON(bytes.NewReader(raw))
	default:
		return ParseParagraph(bytes.NewReader(raw))
	}
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.HTTP.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
			continue
		}
		return body, nil
	}
	return nil, lastErr
}

// FetchAll fetches every repository in parallel; one failure does not
// fail the others. Results are returned in manifest order alongside a
// parallel slice of errors (nil where successful).
func FetchAll(ctx context.Context, f *Fetcher, repos []Repository, engine, arch string) ([]*Index, []error) {
	indexes := make([]*Index, len(repos))
	errs := make([]error, len(repos))

	var wg sync.WaitGroup
	for i, repo := range repos {
		wg.Add(1)
		go func(i int, repo Repository) {
			defer wg.Done()
			idx, err := f.Fetch(ctx, repo.Alias, repo.URL, repo.Format, engine, arch)
			indexes[i], errs[i] = idx, err
		}(i, repo)
	}
	wg.Wait()
	return indexes, errs
}

// Repository names one manifest-declared repository to fetch.
type Repository struct {
	Alias       string
	URL         string
	Format      Format
	ForceSource bool
}
