// Package rvctx bundles the process-wide environment-driven configuration:
// cache root resolution, the copy/IO tuning knobs, and the logging surface
// every other package writes through, styled on a plain stdout/stderr
// Loggers type.
package rvctx

import (
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
)

const (
	EnvCacheDir               = "RV_CACHE_DIR"
	EnvCopyThreads            = "RV_COPY_THREADS"
	EnvNoCheckOpenFile        = "RV_NO_CHECK_OPEN_FILE"
	EnvSubmoduleUpdateDisable = "RV_SUBMODULE_UPDATE_DISABLE"
	EnvSysDepsCheckInPath     = "RV_SYS_DEPS_CHECK_IN_PATH"
)

// Loggers holds the two output streams the rest of the codebase logs
// through, plus a verbosity toggle, generalized for library (not just
// CLI) use.
type Loggers struct {
	Out     *log.Logger
	Err     *log.Logger
	Verbose bool
}

// NewLoggers returns loggers writing to the given streams with no prefix
// and no timestamp.
func NewLoggers(out, err io.Writer, verbose bool) *Loggers {
	return &Loggers{
		Out:     log.New(out, "", 0),
		Err:     log.New(err, "", 0),
		Verbose: verbose,
	}
}

// StderrLoggers returns the default Loggers used by the CLI entrypoint.
func StderrLoggers(verbose bool) *Loggers {
	return NewLoggers(os.Stdout, os.Stderr, verbose)
}

func (l *Loggers) Debugf(format string, args ...interface{}) {
	if l == nil || !l.Verbose {
		return
	}
	l.Err.Printf(format, args...)
}

func (l *Loggers) Errf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Err.Printf(format, args...)
}

// Env is the resolved set of process environment knobs.
type Env struct {
	CacheDir               string
	CopyThreads            int
	NoCheckOpenFile        bool
	SubmoduleUpdateDisable bool
	SysDepsCheckInPath     bool
}

// LoadEnv reads the five supported environment variables, applying the
// documented defaults when unset or unparsable.
func LoadEnv() Env {
	e := Env{
		CacheDir:    os.Getenv(EnvCacheDir),
		CopyThreads: runtime.NumCPU(),
	}
	if v := os.Getenv(EnvCopyThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			e.CopyThreads = n
		}
	}
	e.NoCheckOpenFile = boolEnv(EnvNoCheckOpenFile)
	e.SubmoduleUpdateDisable = boolEnv(EnvSubmoduleUpdateDisable)
	e.SysDepsCheckInPath = boolEnv(EnvSysDepsCheckInPath)
	return e
}

func boolEnv(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true" || v == "TRUE" || v == "yes"
}
