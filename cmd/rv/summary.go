package main

import (
	"context"
	"encoding/json"
	"flag"

	"github.com/rainoffallingstar/rv/internal/rv/app"
)

type summaryCommand struct{}

func (summaryCommand) Name() string      { return "summary" }
func (summaryCommand) Args() string      { return "" }
func (summaryCommand) ShortHelp() string { return "print counts for the pending plan" }
func (summaryCommand) Register(*flag.FlagSet) {}

func (summaryCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	res, pl, err := app.Plan(ctx, a, p, false)
	if err != nil {
		return err
	}
	s := app.Summarize(res, pl)
	if jsonOut {
		enc := json.NewEncoder(a.Loggers.Out.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	a.Loggers.Out.Printf("resolved: %d\n", s.Resolved)
	a.Loggers.Out.Printf("to install: %d\n", s.ToInstall)
	a.Loggers.Out.Printf("to remove: %d\n", s.ToRemove)
	a.Loggers.Out.Printf("kept: %d\n", s.Kept)
	a.Loggers.Out.Printf("cycle batches: %d\n", s.Cycles)
	return nil
}
