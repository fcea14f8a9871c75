package main

import (
	"context"
	"encoding/json"
	"flag"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/library"
)

type libraryCommand struct{}

func (libraryCommand) Name() string      { return "library" }
func (libraryCommand) Args() string      { return "" }
func (libraryCommand) ShortHelp() string { return "list packages currently installed in the library" }
func (libraryCommand) Register(*flag.FlagSet) {}

func (libraryCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	entries, err := library.Scan(p.LibraryDir)
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(a.Loggers.Out.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for name, e := range entries {
		a.Loggers.Out.Printf("%s %s (%s)\n", name, e.Version, e.Source)
	}
	return nil
}
