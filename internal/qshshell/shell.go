// Package qshshell is the shell's composition root: it owns the job table,
// the launcher, the built-in dispatcher's host state, and the logic that
// decides whether a parsed Pipeline is a built-in call or an external
// pipeline to launch.
//
// Follows the jobworker cli package's composition role (wiring Service,
// cgroup.Service, and log.Logger together), collapsed from a server
// handler into a single dispatch method.
package qshshell

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	qsherrors "github.com/tjper/qsh/internal/errors"
	"github.com/tjper/qsh/internal/log"
	"github.com/tjper/qsh/internal/qshbuiltin"
	"github.com/tjper/qsh/internal/qshcgroup"
	"github.com/tjper/qsh/internal/qshexec"
	"github.com/tjper/qsh/internal/qshjob"
	"github.com/tjper/qsh/internal/qshparse"
)

var logger = log.New(os.Stdout, "qshshell")

// Shell is qsh's top-level state: the job table, the pipeline launcher, and
// (if available) a cgroup service backing the `ulimit` built-in.
type Shell struct {
	table    *qshjob.Table
	launcher *qshexec.Launcher
	cgroups  *qshcgroup.Service // nil if cgroup2 is unavailable
	pgid     int
	out      io.Writer
}

// New constructs a Shell whose job table prints transition lines to out,
// and whose launcher restores the controlling terminal to the shell's own
// process group (pgid) once a foreground job's wait completes.
func New(out io.Writer, pgid int) *Shell {
	table := qshjob.NewTable(out)
	s := &Shell{
		table:    table,
		launcher: qshexec.NewLauncher(table, pgid),
		pgid:     pgid,
		out:      out,
	}

	if cgroups, err := qshcgroup.NewService(qshcgroup.DefaultMountPath); err == nil {
		s.cgroups = cgroups
	} else {
		logger.Warnf("cgroup2 unavailable, ulimit disabled; error: %s", err)
	}

	return s
}

// Table implements qshbuiltin.Host.
func (s *Shell) Table() *qshjob.Table { return s.table }

// Stdout implements qshbuiltin.Host.
func (s *Shell) Stdout() io.Writer { return s.out }

// Chdir implements qshbuiltin.Host.
func (s *Shell) Chdir(path string) error { return os.Chdir(path) }

// ShellPgid implements qshbuiltin.Host.
func (s *Shell) ShellPgid() int { return s.pgid }

// SetForegroundPgrp implements qshbuiltin.Host.
func (s *Shell) SetForegroundPgrp(pgid int) error {
	var firstErr error
	for _, fd := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Execute dispatches a single parsed Pipeline: a sole built-in command runs
// in-process via qshbuiltin.Dispatch; anything else goes to the launcher.
// Execute returns qshbuiltin.ErrExit when the pipeline was the `exit`
// built-in.
func (s *Shell) Execute(ctx context.Context, pipeline qshparse.Pipeline) error {
	if len(pipeline.Commands) == 1 {
		argv := pipeline.Commands[0].Argv
		if len(argv) > 0 {
			switch {
			case argv[0] == "ulimit":
				return s.ulimit(argv[1:])
			case qshbuiltin.Names[argv[0]]:
				return qshbuiltin.Dispatch(s, argv[0], argv[1:])
			}
		}
	}

	if err := s.launcher.Launch(ctx, pipeline); err != nil {
		qsherrors.UnixError("launch pipeline", err)
	}
	return nil
}

// ulimit applies a cgroup-backed memory/cpu limit to the named job's
// process group. Usage: ulimit %jid [-m bytes] [-c cpus].
func (s *Shell) ulimit(args []string) error {
	if s.cgroups == nil {
		qsherrors.AppError("ulimit: cgroup2 unavailable")
		return nil
	}
	if len(args) < 1 {
		qsherrors.AppError("ulimit: usage: ulimit %jid [-m bytes] [-c cpus]")
		return nil
	}

	var jid int
	if _, err := fmt.Sscanf(args[0], "%%%d", &jid); err != nil {
		qsherrors.AppError("ulimit: job argument must begin with '%'")
		return nil
	}

	job := s.table.FindByJid(jid)
	if job == nil {
		qsherrors.AppError(fmt.Sprintf("ulimit: %d: no such job", jid))
		return nil
	}

	var limit qshcgroup.Limit
	for i := 1; i+1 < len(args); i += 2 {
		switch args[i] {
		case "-m":
			fmt.Sscanf(args[i+1], "%d", &limit.MemoryHigh)
		case "-c":
			fmt.Sscanf(args[i+1], "%f", &limit.Cpus)
		}
	}

	if err := s.cgroups.Apply(job.LeaderPid, limit); err != nil {
		qsherrors.UnixError("ulimit", err)
	}
	return nil
}
