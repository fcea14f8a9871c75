package main

import (
	"context"
	"encoding/json"
	"flag"

	"github.com/rainoffallingstar/rv/internal/rv/app"
)

type treeCommand struct{}

func (treeCommand) Name() string      { return "tree" }
func (treeCommand) Args() string      { return "" }
func (treeCommand) ShortHelp() string { return "print the resolved dependency graph" }
func (treeCommand) Register(*flag.FlagSet) {}

func (treeCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	res, err := app.Resolve(ctx, a, p, false)
	if err != nil {
		return err
	}
	lines := app.Tree(res)
	if jsonOut {
		enc := json.NewEncoder(a.Loggers.Out.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(lines)
	}
	for _, l := range lines {
		a.Loggers.Out.Println(l)
	}
	return nil
}
