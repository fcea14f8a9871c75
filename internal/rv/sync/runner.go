package sync

import (
	"bytes"
	"context"
	"os/exec"
)

// InstallRunner is the external install-command collaborator: given a
// staged source tree, it builds/installs into dest and returns the
// subprocess's exit code. Implementations decide the actual command
// (e.g. "R CMD INSTALL") -- the pool only needs the exit code and
// combined output.
type InstallRunner interface {
	Install(ctx context.Context, srcDir, destDir string) (exitCode int, output []byte, err error)
}

// ExecRunner invokes an external command per install: the subprocess is
// killed if ctx is cancelled, and its combined stdout/stderr is captured
// for the per-package log. No inactivity timeout is imposed -- per-
// operation timeouts are left to the caller's transport/process
// configuration, not the core.
type ExecRunner struct {
	// Command is the install program, e.g. "R". Args come first and are
	// followed by two fixed arguments: the staged source directory and the
	// destination directory.
	Command string
	Args    []string
}

func (r ExecRunner) Install(ctx context.Context, srcDir, destDir string) (int, []byte, error) {
	args := append(append([]string{}, r.Args...), srcDir, destDir)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			return exitCode, buf.Bytes(), nil
		}
		return -1, buf.Bytes(), err
	}
	return exitCode, buf.Bytes(), nil
}

var _ InstallRunner = ExecRunner{}
