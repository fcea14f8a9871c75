// Package manifest reads and writes the project manifest: an
// ordered repository list, engine version, and a list of top-level
// dependencies expressed in one of several forms (bare name, path, git
// ref, URL, or repository pin). The reader and writer are built on
// pelletier/go-toml's tree/query API, using a mapper-with-sticky-error
// style rather than struct-tag unmarshaling.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/rainoffallingstar/rv/internal/rv/registry"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

const FileName = "rv.toml"

// SourceKind discriminates how one manifest dependency is sourced.
type SourceKind int

const (
	SourceRepository SourceKind = iota
	SourcePath
	SourceGit
	SourceURL
)

// Dependency is one top-level manifest entry.
type Dependency struct {
	Name    string
	Kind    SourceKind
	Req     version.Requirement // SourceRepository only; zero value means "any"
	Path    string              // SourcePath
	GitRepo string              // SourceGit
	Branch  string
	Tag     string
	Commit  string
	Subdir  string
	URL     string // SourceURL

	Repository         string // pin: restrict tier-4 search to this alias
	ForceSource        bool
	InstallSuggestions bool
	DependenciesOnly   bool
}

// Repository is one manifest-declared package repository.
type Repository struct {
	Alias       string
	URL         string
	Format      registry.Format
	ForceSource bool
}

// Manifest is the parsed project manifest.
type Manifest struct {
	UseLockfile  bool
	LockfileName string
	Library      string // optional unnamespaced library path override

	ProjectName           string
	EngineVersion         string
	Repositories          []Repository
	Dependencies          []Dependency
	PreferRepositoriesFor map[string]bool
}

type mapper struct {
	tree *toml.Tree
	err  error
}

func (m *mapper) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func (m *mapper) str(path string) string {
	v := m.tree.Get(path)
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		m.fail(errors.Errorf("expected string at %s, got %T", path, v))
		return ""
	}
	return s
}

func (m *mapper) boolAt(path string, def bool) bool {
	v := m.tree.Get(path)
	if v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		m.fail(errors.Errorf("expected bool at %s, got %T", path, v))
		return def
	}
	return b
}

// Read parses a manifest from r.
func Read(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &rverrors.ManifestInvalid{Reason: errors.Wrap(err, "parsing TOML").Error()}
	}

	m := &mapper{tree: tree}
	manifest := &Manifest{
		UseLockfile:           m.boolAt("use_lockfile", true),
		LockfileName:          m.str("lockfile_name"),
		Library:               m.str("library"),
		ProjectName:           m.str("project.name"),
		EngineVersion:         m.str("project.r_version"),
		PreferRepositoriesFor: map[string]bool{},
	}
	if manifest.LockfileName == "" {
		manifest.LockfileName = "rv.lock"
	}

	if prefer, ok := tree.Get("project.prefer_repositories_for").([]interface{}); ok {
		for _, v := range prefer {
			if s, ok := v.(string); ok {
				manifest.PreferRepositoriesFor[s] = true
			}
		}
	}

	if reposVal := tree.Get("project.repositories"); reposVal != nil {
		trees, ok := reposVal.([]*toml.Tree)
		if !ok {
			return nil, &rverrors.ManifestInvalid{Reason: "project.repositories must be an array of tables"}
		}
		for _, rt := range trees {
			rm := &mapper{tree: rt}
			format := registry.FormatParagraph
			if rm.str("format") == "json" {
				format = registry.FormatJSON
			}
			repo := Repository{
				Alias:       rm.str("alias"),
				URL:         rm.str("url"),
				Format:      format,
				ForceSource: rm.boolAt("force_source", false),
			}
			if rm.err != nil {
				return nil, &rverrors.ManifestInvalid{Reason: rm.err.Error()}
			}
			if repo.Alias == "" || repo.URL == "" {
				return nil, &rverrors.ManifestInvalid{Reason: "repository entries require alias and url"}
			}
			manifest.Repositories = append(manifest.Repositories, repo)
		}
	}

	// Dependencies appear either as a plain array (bare strings, possibly
	// with inline tables mixed in) or as [[project.dependencies]] tables;
	// go-toml hands back a different slice type for each.
	switch items := tree.Get("project.dependencies").(type) {
	case nil:
	case []interface{}:
		for _, item := range items {
			dep, err := toDependency(item)
			if err != nil {
				return nil, err
			}
			manifest.Dependencies = append(manifest.Dependencies, *dep)
		}
	case []*toml.Tree:
		for _, item := range items {
			dep, err := toDependency(item)
			if err != nil {
				return nil, err
			}
			manifest.Dependencies = append(manifest.Dependencies, *dep)
		}
	default:
		return nil, &rverrors.ManifestInvalid{Reason: "project.dependencies must be an array"}
	}

	if m.err != nil {
		return nil, &rverrors.ManifestInvalid{Reason: m.err.Error()}
	}
	return manifest, nil
}

// toDependency accepts either arm of a manifest dependency entry: a bare
// string naming a repository package with no version constraint, or an
// inline table carrying exactly one source discriminant.
func toDependency(item interface{}) (*Dependency, error) {
	if name, ok := item.(string); ok {
		if name == "" {
			return nil, &rverrors.ManifestInvalid{Reason: "dependency entries require a name"}
		}
		return &Dependency{Name: name, Kind: SourceRepository, Req: version.Any()}, nil
	}
	t, ok := item.(*toml.Tree)
	if !ok {
		return nil, &rverrors.ManifestInvalid{Reason: fmt.Sprintf("dependency entries must be a string or table, got %T", item)}
	}
	if err := rejectUnknownKeys(t, knownDependencyKeys); err != nil {
		return nil, err
	}

	m := &mapper{tree: t}
	d := &Dependency{
		Name:               m.str("name"),
		Path:               m.str("path"),
		GitRepo:            m.str("git"),
		Branch:             m.str("branch"),
		Tag:                m.str("tag"),
		Commit:             m.str("commit"),
		Subdir:             m.str("directory"),
		URL:                m.str("url"),
		Repository:         m.str("repository"),
		ForceSource:        m.boolAt("force_source", false),
		InstallSuggestions: m.boolAt("install_suggestions", false),
		DependenciesOnly:   m.boolAt("dependencies_only", false),
	}
	if m.err != nil {
		return nil, &rverrors.ManifestInvalid{Reason: m.err.Error()}
	}
	if d.Name == "" {
		return nil, &rverrors.ManifestInvalid{Reason: "dependency entries require a name"}
	}

	discriminants := 0
	if d.Path != "" {
		discriminants++
		d.Kind = SourcePath
	}
	if d.GitRepo != "" {
		discriminants++
		d.Kind = SourceGit
		refs := 0
		if d.Branch != "" {
			refs++
		}
		if d.Tag != "" {
			refs++
		}
		if d.Commit != "" {
			refs++
		}
		if refs > 1 {
			return nil, &rverrors.ManifestInvalid{Reason: fmt.Sprintf("dependency %s specifies more than one of branch/tag/commit", d.Name)}
		}
	}
	if d.URL != "" {
		discriminants++
		d.Kind = SourceURL
	}
	if discriminants > 1 {
		return nil, &rverrors.ManifestInvalid{Reason: fmt.Sprintf("dependency %s specifies more than one source (path/git/url)", d.Name)}
	}
	if discriminants == 0 {
		d.Kind = SourceRepository
		if v := t.Get("version"); v != nil {
			s, ok := v.(string)
			if !ok {
				return nil, &rverrors.ManifestInvalid{Reason: fmt.Sprintf("dependency %s: version must be a string", d.Name)}
			}
			req, err := version.ParseRequirement(s)
			if err != nil {
				return nil, &rverrors.ManifestInvalid{Reason: fmt.Sprintf("dependency %s: %v", d.Name, err)}
			}
			d.Req = req
		} else {
			d.Req = version.Any()
		}
	}

	return d, nil
}

// knownDependencyKeys is the full set of recognized per-dependency options,
// plus the source discriminants and "name". Anything else in a dependency
// table is ManifestInvalid.
var knownDependencyKeys = map[string]bool{
	"name": true, "path": true, "git": true, "branch": true, "tag": true,
	"commit": true, "directory": true, "url": true, "version": true,
	"repository": true, "install_suggestions": true, "force_source": true,
	"dependencies_only": true,
}

func rejectUnknownKeys(t *toml.Tree, known map[string]bool) error {
	for _, k := range t.Keys() {
		if !known[k] {
			return &rverrors.ManifestInvalid{Reason: fmt.Sprintf("unknown dependency option %q", k)}
		}
	}
	return nil
}

// Write serializes a manifest back to TOML. Field order is stable
// (repositories and dependencies in slice order) so repeated writes of an
// unchanged Manifest produce byte-identical output.
func Write(w io.Writer, m *Manifest) error {
	tree, err := toml.TreeFromMap(map[string]interface{}{})
	if err != nil {
		return err
	}
	tree.Set("use_lockfile", m.UseLockfile)
	if m.LockfileName != "" && m.LockfileName != "rv.lock" {
		tree.Set("lockfile_name", m.LockfileName)
	}
	if m.Library != "" {
		tree.Set("library", m.Library)
	}
	if m.ProjectName != "" {
		tree.SetPath([]string{"project", "name"}, m.ProjectName)
	}
	if m.EngineVersion != "" {
		tree.SetPath([]string{"project", "r_version"}, m.EngineVersion)
	}

	if len(m.PreferRepositoriesFor) > 0 {
		names := make([]string, 0, len(m.PreferRepositoriesFor))
		for n := range m.PreferRepositoriesFor {
			names = append(names, n)
		}
		sort.Strings(names)
		list := make([]interface{}, len(names))
		for i, n := range names {
			list[i] = n
		}
		tree.SetPath([]string{"project", "prefer_repositories_for"}, list)
	}

	repos := make([]*toml.Tree, len(m.Repositories))
	for i, r := range m.Repositories {
		rt, _ := toml.TreeFromMap(map[string]interface{}{
			"alias": r.Alias,
			"url":   r.URL,
		})
		if r.Format == registry.FormatJSON {
			rt.Set("format", "json")
		}
		if r.ForceSource {
			rt.Set("force_source", true)
		}
		repos[i] = rt
	}
	if len(repos) > 0 {
		tree.SetPath([]string{"project", "repositories"}, repos)
	}

	// A dependency list of nothing but bare names is written as a plain
	// string array; one table-form entry switches the whole list to
	// [[project.dependencies]] tables, since TOML arrays can't mix the two.
	if len(m.Dependencies) > 0 {
		allBare := true
		for _, d := range m.Dependencies {
			if _, ok := dependencyValue(d).(string); !ok {
				allBare = false
				break
			}
		}
		if allBare {
			names := make([]interface{}, len(m.Dependencies))
			for i, d := range m.Dependencies {
				names[i] = d.Name
			}
			tree.SetPath([]string{"project", "dependencies"}, names)
		} else {
			deps := make([]*toml.Tree, len(m.Dependencies))
			for i, d := range m.Dependencies {
				deps[i] = dependencyTree(d)
			}
			tree.SetPath([]string{"project", "dependencies"}, deps)
		}
	}

	var buf bytes.Buffer
	if _, err := tree.WriteTo(&buf); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// dependencyValue emits the bare-string arm for a plain repository
// dependency with no options, and the inline-table arm otherwise --
// matching the round-trip property (Testable Property "round trips")
// for manifests the formatter itself produced.
func dependencyValue(d Dependency) interface{} {
	if d.Kind == SourceRepository && d.Req.IsAny() && d.Repository == "" &&
		!d.ForceSource && !d.InstallSuggestions && !d.DependenciesOnly {
		return d.Name
	}
	return dependencyTree(d)
}

func dependencyTree(d Dependency) *toml.Tree {
	fields := map[string]interface{}{"name": d.Name}
	switch d.Kind {
	case SourcePath:
		fields["path"] = d.Path
	case SourceGit:
		fields["git"] = d.GitRepo
		if d.Branch != "" {
			fields["branch"] = d.Branch
		}
		if d.Tag != "" {
			fields["tag"] = d.Tag
		}
		if d.Commit != "" {
			fields["commit"] = d.Commit
		}
		if d.Subdir != "" {
			fields["directory"] = d.Subdir
		}
	case SourceURL:
		fields["url"] = d.URL
	default:
		if !d.Req.IsAny() {
			fields["version"] = d.Req.String()
		}
	}
	if d.Repository != "" {
		fields["repository"] = d.Repository
	}
	if d.ForceSource {
		fields["force_source"] = true
	}
	if d.InstallSuggestions {
		fields["install_suggestions"] = true
	}
	if d.DependenciesOnly {
		fields["dependencies_only"] = true
	}
	t, _ := toml.TreeFromMap(fields)
	return t
}
