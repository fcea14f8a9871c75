package main

import (
	"context"
	"flag"
	"time"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
)

// cacheCommand manages the disk cache directly: `rv cache clear [kind]` and
// `rv cache sweep` (orphan temp-file cleanup).
type cacheCommand struct{}

func (cacheCommand) Name() string      { return "cache" }
func (cacheCommand) Args() string      { return "<clear|sweep> [kind]" }
func (cacheCommand) ShortHelp() string { return "clear or sweep the disk cache" }
func (cacheCommand) Register(*flag.FlagSet) {}

func (cacheCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	if len(args) == 0 {
		return &rverrors.ManifestInvalid{Reason: "cache requires a subcommand: clear or sweep"}
	}
	switch args[0] {
	case "clear":
		kind := ""
		if len(args) > 1 {
			kind = args[1]
		}
		if err := a.Cache.Clear(kind); err != nil {
			return err
		}
		a.Loggers.Out.Println("cache cleared")
		return nil
	case "sweep":
		if err := a.Cache.SweepOrphanTemp(1 * time.Hour); err != nil {
			return err
		}
		a.Loggers.Out.Println("orphan temp files swept")
		return nil
	default:
		return &rverrors.ManifestInvalid{Reason: "unknown cache subcommand: " + args[0]}
	}
}
