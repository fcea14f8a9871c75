package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/manifest"
	"github.com/rainoffallingstar/rv/internal/rv/registry"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
)

// configureCommand edits the manifest's repository list in place:
// `rv configure repository add|remove|update|replace|clear ...`.
type configureCommand struct {
	jsonFormat bool
	forceSrc   bool
}

func (configureCommand) Name() string { return "configure" }
func (configureCommand) Args() string { return "repository <add|remove|update|replace|clear> ..." }
func (configureCommand) ShortHelp() string {
	return "edit the manifest's declared repositories"
}

func (c *configureCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&c.jsonFormat, "json-format", false, "declare the repository index as JSON format")
	fs.BoolVar(&c.forceSrc, "force-source", false, "force source builds for packages from this repository")
}

func (c *configureCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	if len(args) < 2 || args[0] != "repository" {
		return &rverrors.ManifestInvalid{Reason: "configure requires: repository <add|remove|update|replace|clear> ..."}
	}
	mfPath := filepath.Join(workingDir, manifest.FileName)
	f, err := os.Open(mfPath)
	if err != nil {
		return err
	}
	m, err := manifest.Read(f)
	f.Close()
	if err != nil {
		return err
	}

	switch args[1] {
	case "add":
		if len(args) != 4 {
			return &rverrors.ManifestInvalid{Reason: "configure repository add <alias> <url>"}
		}
		alias, url := args[2], args[3]
		for _, r := range m.Repositories {
			if r.Alias == alias {
				return &rverrors.ManifestInvalid{Reason: "repository alias " + alias + " already exists"}
			}
		}
		m.Repositories = append(m.Repositories, c.newRepository(alias, url))
	case "remove":
		if len(args) != 3 {
			return &rverrors.ManifestInvalid{Reason: "configure repository remove <alias>"}
		}
		if !removeRepository(m, args[2]) {
			return &rverrors.ManifestInvalid{Reason: "no such repository alias: " + args[2]}
		}
	case "update":
		if len(args) != 4 {
			return &rverrors.ManifestInvalid{Reason: "configure repository update <alias> <url>"}
		}
		if !updateRepositoryURL(m, args[2], args[3]) {
			return &rverrors.ManifestInvalid{Reason: "no such repository alias: " + args[2]}
		}
	case "replace":
		if len(args) != 4 {
			return &rverrors.ManifestInvalid{Reason: "configure repository replace <alias> <url>"}
		}
		alias, url := args[2], args[3]
		if !removeRepository(m, alias) {
			return &rverrors.ManifestInvalid{Reason: "no such repository alias: " + alias}
		}
		m.Repositories = append(m.Repositories, c.newRepository(alias, url))
	case "clear":
		m.Repositories = nil
	default:
		return &rverrors.ManifestInvalid{Reason: "unknown configure repository subcommand: " + args[1]}
	}

	return writeManifest(mfPath, m)
}

func (c *configureCommand) newRepository(alias, url string) manifest.Repository {
	format := registry.FormatParagraph
	if c.jsonFormat {
		format = registry.FormatJSON
	}
	return manifest.Repository{Alias: alias, URL: url, Format: format, ForceSource: c.forceSrc}
}

func removeRepository(m *manifest.Manifest, alias string) bool {
	for i, r := range m.Repositories {
		if r.Alias == alias {
			m.Repositories = append(m.Repositories[:i], m.Repositories[i+1:]...)
			return true
		}
	}
	return false
}

func updateRepositoryURL(m *manifest.Manifest, alias, url string) bool {
	for i, r := range m.Repositories {
		if r.Alias == alias {
			m.Repositories[i].URL = url
			return true
		}
	}
	return false
}
