package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rainoffallingstar/rv/internal/rv/cache"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

func TestParseParagraphSkipsUnparsableVersionsAndDetectsBinary(t *testing.T) {
	const idx = `Package: dplyr
Version: 1.1.3
Path: src/contrib/dplyr_1.1.3.tar.gz
SHA256sum: abc123
Built: source

Package: dplyr
Version: bogus-version
Path: src/contrib/dplyr_bogus.tar.gz

Package: dplyr
Version: 1.1.4
Path: bin/windows/contrib/4.3/dplyr_1.1.4.zip
SHA256sum: def456
Built: R 4.3.1; x86_64-w64-mingw32; 2023-10-01 00:00:00 UTC; windows
`
	pkgs, err := ParseParagraph(strings.NewReader(idx))
	if err != nil {
		t.Fatalf("ParseParagraph: %v", err)
	}
	p, ok := pkgs["dplyr"]
	if !ok {
		t.Fatal("expected dplyr package")
	}
	if len(p.Versions) != 2 {
		t.Fatalf("expected bogus version entry to be skipped, got %d entries", len(p.Versions))
	}
	if p.Latest.String() != "1.1.4" {
		t.Errorf("Latest = %s, want 1.1.4", p.Latest)
	}
	for _, e := range p.Versions {
		if e.Version.String() == "1.1.3" && e.Binary {
			t.Error("source entry incorrectly marked Binary")
		}
		if e.Version.String() == "1.1.4" && !e.Binary {
			t.Error("binary entry incorrectly marked source")
		}
	}
}

func TestParseJSON(t *testing.T) {
	const idx = `{
		"ggplot2": [
			{"version": "3.4.0", "download_path": "ggplot2_3.4.0.tar.gz", "sha256": "aaa", "binary": false},
			{"version": "3.5.0", "download_path": "ggplot2_3.5.0.tar.gz", "sha256": "bbb", "binary": true}
		]
	}`
	pkgs, err := ParseJSON(strings.NewReader(idx))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	p, ok := pkgs["ggplot2"]
	if !ok || len(p.Versions) != 2 {
		t.Fatalf("expected 2 ggplot2 versions, got %+v", p)
	}
	if p.Latest.String() != "3.5.0" {
		t.Errorf("Latest = %s, want 3.5.0", p.Latest)
	}
}

func TestPackageBestPrefersBinaryOnTie(t *testing.T) {
	p := &Package{
		Name: "dplyr",
		Versions: []Entry{
			{Version: version.MustParse("1.1.3"), Binary: false},
			{Version: version.MustParse("1.1.3"), Binary: true},
		},
	}
	req, err := version.ParseRequirement(">= 1.0.0")
	if err != nil {
		t.Fatalf("ParseRequirement: %v", err)
	}
	best, ok := p.Best(req)
	if !ok {
		t.Fatal("expected a match")
	}
	if !best.Binary {
		t.Error("expected binary entry to win the tie-break")
	}
}

func TestPackageBestHonorsRequirement(t *testing.T) {
	p := &Package{
		Name: "dplyr",
		Versions: []Entry{
			{Version: version.MustParse("1.0.0")},
			{Version: version.MustParse("1.1.3")},
		},
	}
	req, err := version.ParseRequirement("< 1.1.0")
	if err != nil {
		t.Fatalf("ParseRequirement: %v", err)
	}
	best, ok := p.Best(req)
	if !ok || best.Version.String() != "1.0.0" {
		t.Fatalf("expected 1.0.0 to satisfy < 1.1.0, got %+v ok=%v", best, ok)
	}
}

func TestFetcherCachesAcrossCalls(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("Package: dplyr\nVersion: 1.1.3\nPath: dplyr.tar.gz\n"))
	}))
	defer srv.Close()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()

	f := NewFetcher(store, time.Hour)
	ctx := context.Background()

	idx1, err := f.Fetch(ctx, "cran", srv.URL, FormatParagraph, "4.3.1", "linux-amd64")
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	if _, ok := idx1.Packages["dplyr"]; !ok {
		t.Fatal("expected dplyr in first fetch")
	}

	idx2, err := f.Fetch(ctx, "cran", srv.URL, FormatParagraph, "4.3.1", "linux-amd64")
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if _, ok := idx2.Packages["dplyr"]; !ok {
		t.Fatal("expected dplyr in cached fetch")
	}
	if hits != 1 {
		t.Errorf("expected a single network hit within the freshness window, got %d", hits)
	}
}

func TestFetcherSurfacesRepositoryFetchFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()

	f := NewFetcher(store, time.Hour)
	f.HTTP = &http.Client{Timeout: 2 * time.Second}
	_, err = f.Fetch(context.Background(), "cran", srv.URL, FormatParagraph, "4.3.1", "linux-amd64")
	if err == nil {
		t.Fatal("expected an error from a repeatedly-failing server")
	}
}

func TestFetchAllIsolatesPerRepositoryFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Package: dplyr\nVersion: 1.0.0\nPath: d.tar.gz\n"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()

	f := NewFetcher(store, time.Hour)
	repos := []Repository{{Alias: "good", URL: good.URL}, {Alias: "bad", URL: bad.URL}}
	indexes, errs := FetchAll(context.Background(), f, repos, "4.3.1", "linux-amd64")

	if errs[0] != nil {
		t.Errorf("expected good repo to succeed, got %v", errs[0])
	}
	if errs[1] == nil {
		t.Error("expected bad repo to fail")
	}
	if indexes[0] == nil || len(indexes[0].Packages) == 0 {
		t.Error("expected good repo's index to be populated")
	}
}
