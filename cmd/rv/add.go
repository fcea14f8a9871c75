package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/manifest"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
	"github.com/rainoffallingstar/rv/internal/rv/version"
)

type addCommand struct {
	ver string
}

func (addCommand) Name() string      { return "add" }
func (addCommand) Args() string      { return "<package>" }
func (addCommand) ShortHelp() string { return "add a dependency to the manifest" }

func (c *addCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.ver, "version", "", "version requirement, e.g. \">=1.0.0\"")
}

func (c *addCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	if len(args) != 1 {
		return &rverrors.ManifestInvalid{Reason: "add requires exactly one package name"}
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

	dep := manifest.Dependency{Name: args[0], Kind: manifest.SourceRepository, Req: version.Any()}
	if c.ver != "" {
		req, err := version.ParseRequirement(c.ver)
		if err != nil {
			return &rverrors.ManifestInvalid{Reason: err.Error()}
		}
		dep.Req = req
	}
	for i, existing := range m.Dependencies {
		if existing.Name == dep.Name {
			m.Dependencies[i] = dep
			return writeManifest(mfPath, m)
		}
	}
	m.Dependencies = append(m.Dependencies, dep)
	return writeManifest(mfPath, m)
}

func writeManifest(path string, m *manifest.Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return manifest.Write(f, m)
}
