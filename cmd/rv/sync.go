package main

import (
	"context"
	"flag"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	rvsync "github.com/rainoffallingstar/rv/internal/rv/sync"
)

type syncCommand struct {
	installCmd string
}

func (syncCommand) Name() string      { return "sync" }
func (syncCommand) Args() string      { return "" }
func (syncCommand) ShortHelp() string { return "synchronize the project library to match the resolution" }

func (c *syncCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.installCmd, "install-cmd", "R", "external install command to invoke")
}

func (c *syncCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	res, pl, err := app.Plan(ctx, a, p, false)
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
		a.Loggers.Errf("sync completed with failures; lockfile left unchanged\n")
		return firstFailure(report)
	}
	return nil
}

// firstFailure surfaces a failed install's error so the process exits
// non-zero, after the per-package results have already been printed.
func firstFailure(report rvsync.Report) error {
	for _, r := range report.Results {
		if r.Status == rvsync.Failed && r.Err != nil {
			return r.Err
		}
	}
	for _, r := range report.Results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
