// Command rv is the CLI surface for the package manager: a
// thin dispatcher over internal/rv/app, modeled directly on cmd/dep's
// main.go command-table pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/rvctx"
)

type command interface {
	Name() string
	Args() string
	ShortHelp() string
	Register(*flag.FlagSet)
	Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error
}

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory:", err)
		os.Exit(1)
	}
	os.Exit(Run(os.Args, os.Stdout, os.Stderr, wd))
}

func Run(args []string, stdout, stderr io.Writer, workingDir string) int {
	commands := []command{
		&planCommand{},
		&syncCommand{},
		&addCommand{},
		&upgradeCommand{},
		&treeCommand{},
		&libraryCommand{},
		&cacheCommand{},
		&summaryCommand{},
		&sysdepsCommand{},
		&configureCommand{},
	}

	errLogger := log.New(stderr, "", 0)

	usage := func() {
		errLogger.Println("rv is a package manager for R projects")
		errLogger.Println()
		errLogger.Println("Usage: rv <command> [arguments]")
		errLogger.Println()
		errLogger.Println("Commands:")
		w := tabwriter.NewWriter(stderr, 0, 4, 2, ' ', 0)
		for _, cmd := range commands {
			fmt.Fprintf(w, "\t%s\t%s\n", cmd.Name(), cmd.ShortHelp())
		}
		w.Flush()
	}

	if len(args) < 2 {
		usage()
		return 1
	}
	cmdName := args[1]

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}
		fs := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		fs.SetOutput(stderr)
		verbose := fs.Bool("v", false, "enable verbose logging")
		jsonOut := fs.Bool("json", false, "structured JSON output")
		cmd.Register(fs)

		if err := fs.Parse(args[2:]); err != nil {
			return 1
		}

		loggers := rvctx.NewLoggers(stdout, stderr, *verbose)
		a, err := app.NewCtx(loggers)
		if err != nil {
			errLogger.Printf("rv: %v\n", err)
			return 1
		}
		defer a.Close()

		// First interrupt cancels the context cooperatively; a second
		// interrupt restores default handling, terminating in-flight
		// subprocesses with the process.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		go func() {
			<-ctx.Done()
			stop()
		}()

		if err := cmd.Run(ctx, a, workingDir, *jsonOut, fs.Args()); err != nil {
			errLogger.Printf("rv: %v\n", err)
			return exitCodeFor(err)
		}
		return 0
	}

	errLogger.Printf("rv: %s: no such command\n", cmdName)
	usage()
	return 1
}
