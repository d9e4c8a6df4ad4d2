// Package qshbuiltin implements the built-in dispatcher: the commands that
// must run in the shell's own address space because they mutate shell
// state (cd, exit, jobs, fg, bg) rather than spawning a child process.
//
// Follows a POSIX shell's builtin_cmd switch (cd/exit/jobs/bg/fg with
// errno-mapped cd diagnostics) and reuses the validator package for
// argument-shape checks.
package qshbuiltin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	qsherrors "github.com/tjper/qsh/internal/errors"
	"github.com/tjper/qsh/internal/qshjob"
	"github.com/tjper/qsh/internal/validator"
)

// Names lists every built-in command recognized by Dispatch.
var Names = map[string]bool{
	"exit": true,
	"cd":   true,
	"jobs": true,
	"fg":   true,
	"bg":   true,
}

// Host is the shell state a built-in command needs access to. qshshell.Shell
// implements it.
type Host interface {
	Table() *qshjob.Table
	Chdir(path string) error
	Stdout() io.Writer
	// SetForegroundPgrp transfers the controlling terminal to pgid.
	SetForegroundPgrp(pgid int) error
	// ShellPgid returns the shell's own process group, restored as the
	// terminal's foreground process group once a foreground job stops
	// being foreground.
	ShellPgid() int
}

// ErrExit is returned by Dispatch when the built-in was "exit"; the caller
// (the REPL driver) is responsible for actually terminating the process
// with status 0.
var ErrExit = errors.New("exit")

// Dispatch runs the named built-in with args (argv[1:]) against host.
// Dispatch assumes the caller has already verified name is a recognized
// built-in and that it is the sole command of its pipeline.
func Dispatch(host Host, name string, args []string) error {
	switch name {
	case "exit":
		return ErrExit
	case "cd":
		return cd(host, args)
	case "jobs":
		return jobs(host, args)
	case "fg":
		return fgbg(host, args, true)
	case "bg":
		return fgbg(host, args, false)
	default:
		return fmt.Errorf("qshbuiltin: unrecognized built-in %q", name)
	}
}

func cd(host Host, args []string) error {
	path := os.Getenv("HOME")
	if len(args) > 0 {
		path = args[0]
	}

	err := host.Chdir(path)
	switch {
	case err == nil:
		return nil
	case os.IsPermission(err):
		qsherrors.AppError("cd: Permission denied.")
	case os.IsNotExist(err):
		qsherrors.AppError("cd: No such directory.")
	default:
		qsherrors.UnixError("cd", err)
	}
	return nil
}

func jobs(host Host, _ []string) error {
	for _, j := range host.Table().List() {
		fmt.Fprintf(host.Stdout(), "[%d] %s %s\n", j.Jid, j.State(), j.Cmdline)
	}
	return nil
}

// fgbg implements both fg and bg: resolve the target jid (argument must
// begin with '%', default jid 1 if omitted), then apply the built-in's
// specific transition.
func fgbg(host Host, args []string, foreground bool) error {
	jid, err := targetJid(args)
	if err != nil {
		qsherrors.AppError(err.Error())
		return nil
	}

	job := host.Table().FindByJid(jid)
	if job == nil {
		qsherrors.AppError(fmt.Sprintf("%s: %d: no such job", builtinName(foreground), jid))
		return nil
	}

	if foreground {
		host.Table().SetState(job, qshjob.Foreground)
		if err := host.SetForegroundPgrp(job.LeaderPid); err != nil {
			qsherrors.UnixError("tcsetpgrp", err)
		}
		if err := unix.Kill(-job.LeaderPid, unix.SIGCONT); err != nil {
			qsherrors.UnixError("kill", err)
		}
		host.Table().WaitNoForeground()
		if err := host.SetForegroundPgrp(host.ShellPgid()); err != nil {
			qsherrors.UnixError("tcsetpgrp", err)
		}
		return nil
	}

	if job.State() == qshjob.Background {
		fmt.Fprintln(host.Stdout(), "Job already in background.")
		return nil
	}
	host.Table().SetState(job, qshjob.Background)
	if err := unix.Kill(-job.LeaderPid, unix.SIGCONT); err != nil {
		qsherrors.UnixError("kill", err)
	}
	fmt.Fprintf(host.Stdout(), "[%d] (%d) Continued %s\n", job.Jid, job.LeaderPid, job.Cmdline)
	return nil
}

func builtinName(foreground bool) string {
	if foreground {
		return "fg"
	}
	return "bg"
}

// targetJid parses fg/bg's optional %jid argument, defaulting to jid 1.
func targetJid(args []string) (int, error) {
	v := validator.New()
	if len(args) == 0 {
		return 1, nil
	}

	arg := args[0]
	v.Assert(strings.HasPrefix(arg, "%"), validator.Format("job argument must begin with '%'"))
	if err := v.Err(); err != nil {
		return 0, err
	}

	jid, err := strconv.Atoi(arg[1:])
	if err != nil {
		return 0, fmt.Errorf("%s: bad job id", arg)
	}
	return jid, nil
}
