// Package qshcli defines qsh's command-line entrypoint: dispatching to the
// exec-helper re-exec path or starting the interactive REPL, and mapping
// startup and fatal failures to the process's exit status.
//
// Follows the jobworker cli package's shape: Run dispatches on a trailing
// os.Args subcommand, with per-failure exit code constants.
package qshcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	qsherrors "github.com/tjper/qsh/internal/errors"
	"github.com/tjper/qsh/internal/log"
	"github.com/tjper/qsh/internal/qshexec"
	"github.com/tjper/qsh/internal/qshexec/reaper"
	"github.com/tjper/qsh/internal/qshrepl"
	"github.com/tjper/qsh/internal/qshshell"
)

var logger = log.New(os.Stdout, "cli")

// ecSuccess is the exit status for a normal exit (EOF or the `exit`
// built-in); qsherrors.FatalError.Code supplies every other status.
const ecSuccess = 0

// Run is qsh's entrypoint. A trailing argument of qshexec.HelperArg means
// this process is a freshly re-exec'd pipeline member; otherwise it starts
// the interactive REPL.
func Run() int {
	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[len(os.Args)-1] == qshexec.HelperArg {
		return qshexec.RunHelper(ctx)
	}

	return runShell(ctx)
}

func runShell(ctx context.Context) int {
	if err := openDebugLog(); err != nil {
		logger.Warnf("open debug log; error: %s", err)
	}

	pgid, err := ownPgid()
	if err != nil {
		return qsherrors.UnixFatal("determine own process group", err).Code
	}

	shell := qshshell.New(os.Stdout, pgid)

	reap := reaper.Install(shell.Table())
	defer reap.Stop()

	if err := qshrepl.Run(ctx, shell); err != nil {
		return qsherrors.AppFatal(fmt.Sprintf("repl: %s", err)).Code
	}
	return ecSuccess
}

// openDebugLog redirects this package's logger to $XDG_CACHE_HOME/qsh/debug.log
// (or the platform user cache directory). The other packages' loggers are
// not redirected and keep writing to stdout.
func openDebugLog() error {
	dir, err := os.UserCacheDir()
	if err != nil {
		return err
	}
	dir = filepath.Join(dir, "qsh")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	logger.SetOutput(f)
	return nil
}

func ownPgid() (int, error) {
	pgid, err := unix.Getpgid(os.Getpid())
	if err != nil {
		return 0, fmt.Errorf("getpgid: %w", err)
	}
	return pgid, nil
}
