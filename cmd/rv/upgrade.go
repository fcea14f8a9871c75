package main

import (
	"context"
	"flag"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	rvsync "github.com/rainoffallingstar/rv/internal/rv/sync"
)

// upgradeCommand is sync's flow with the lockfile tier disabled, letting
// every dependency re-resolve against the freshest repository data.
type upgradeCommand struct {
	installCmd string
}

func (upgradeCommand) Name() string      { return "upgrade" }
func (upgradeCommand) Args() string      { return "" }
func (upgradeCommand) ShortHelp() string { return "re-resolve ignoring the lockfile and sync" }

func (c *upgradeCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.installCmd, "install-cmd", "R", "external install command to invoke")
}

func (c *upgradeCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	res, pl, err := app.Plan(ctx, a, p, true)
	if err != nil {
		return err
	}
	runner := rvsync.ExecRunner{Command: c.installCmd, Args: []string{"CMD", "INSTALL"}}
	report, err := app.Sync(ctx, a, p, res, pl, runner)
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		if r.Err != nil {
			a.Loggers.Errf("%s: %s (%v)\n", r.Name, r.Status, r.Err)
		} else {
			a.Loggers.Out.Printf("%s: %s\n", r.Name, r.Status)
		}
	}
	if !report.AllSucceeded {
		a.Loggers.Errf("upgrade completed with failures; lockfile left unchanged\n")
		return firstFailure(report)
	}
	return nil
}
