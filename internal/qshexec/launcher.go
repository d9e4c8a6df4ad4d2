// Package qshexec implements the pipeline launcher and its exec-helper
// process: forking N processes, wiring N-1 pipes between them, assigning a
// shared process group, transferring the controlling terminal, and execing
// each child's program image.
//
// Go's os/exec.Cmd cannot express every descriptor operation the
// redirection planner needs (most notably CLOSE, since a nil Stdin/Stdout/
// Stderr is silently redirected to /dev/null rather than left closed), so
// each pipeline command is launched as a re-exec of the qsh binary itself
// into RunHelper, which performs the planner's raw descriptor surgery and
// then replaces its own image via syscall.Exec. This mirrors the
// jobworker reexec pattern (command spec + continue gate shipped
// over a pair of pipes via ExtraFiles), generalized from one child per Job
// to N children sharing a process group and interior pipes.
package qshexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tjper/qsh/internal/errors"
	"github.com/tjper/qsh/internal/log"
	"github.com/tjper/qsh/internal/qshjob"
	"github.com/tjper/qsh/internal/qshparse"
)

var logger = log.New(os.Stdout, "qshexec")

// Launcher launches Pipelines as Jobs and registers them with a Table.
type Launcher struct {
	// Table is the job table jobs are registered with.
	Table *qshjob.Table
	// ShellPgid is the shell's own process group, restored as the
	// controlling terminal's owner once a foreground job's wait completes.
	ShellPgid int
}

// NewLauncher returns a Launcher that registers jobs with table.
func NewLauncher(table *qshjob.Table, shellPgid int) *Launcher {
	return &Launcher{Table: table, ShellPgid: shellPgid}
}

// process is one forked-and-started member of a pipeline being launched.
type process struct {
	cmd       *exec.Cmd
	cmdWrite  *os.File
	contWrite *os.File
}

// Launch forks pipeline.Commands as a single job: it allocates the interior
// pipes, starts every command as an exec helper sharing one process group,
// ships each its HelperSpec, registers the job, and (for a foreground job)
// blocks until the job is no longer foreground, then hands the terminal
// back to the shell. Launch itself does not hand the terminal to the job:
// the pipeline leader's helper takes it for its own process group before
// exec (HelperSpec.Foreground).
// Launch never handles a single built-in command; callers are expected to
// have already dispatched that case via the built-in dispatcher.
func (l *Launcher) Launch(ctx context.Context, pipeline qshparse.Pipeline) error {
	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err)
	}

	n := len(pipeline.Commands)
	pipes := make([][2]*os.File, n-1)
	for i := range pipes {
		r, w, err := os.Pipe()
		if err != nil {
			return errors.Wrap(err)
		}
		pipes[i] = [2]*os.File{r, w}
	}

	procs := make([]*process, n)
	var leaderPid int

	for i, c := range pipeline.Commands {
		cmdRead, cmdWrite, err := os.Pipe()
		if err != nil {
			return errors.Wrap(err)
		}
		contRead, contWrite, err := os.Pipe()
		if err != nil {
			return errors.Wrap(err)
		}

		cmd := exec.CommandContext(ctx, self, HelperArg)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		cmd.ExtraFiles = []*os.File{cmdRead, contRead}

		spec := HelperSpec{
			Argv:       c.Argv,
			Redir:      c.Redir,
			StdinFD:    -1,
			StdoutFD:   -1,
			Foreground: i == 0 && !pipeline.Background,
		}
		if i > 0 {
			cmd.ExtraFiles = append(cmd.ExtraFiles, pipes[i-1][0])
			spec.StdinFD = 3 + len(cmd.ExtraFiles) - 1
		}
		if i < n-1 {
			cmd.ExtraFiles = append(cmd.ExtraFiles, pipes[i][1])
			spec.StdoutFD = 3 + len(cmd.ExtraFiles) - 1
		}

		if i == 0 {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		} else {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: leaderPid}
		}

		if err := cmd.Start(); err != nil {
			closeAll(procs[:i])
			return errors.Wrap(fmt.Errorf("start command %d: %w", i, err))
		}
		if i == 0 {
			leaderPid = cmd.Process.Pid
		}

		procs[i] = &process{cmd: cmd, cmdWrite: cmdWrite, contWrite: contWrite}

		b, err := json.Marshal(spec)
		if err != nil {
			return errors.Wrap(err)
		}
		if _, err := cmdWrite.Write(b); err != nil {
			return errors.Wrap(err)
		}
		cmdWrite.Close()
		cmdRead.Close()
		contRead.Close()
	}

	// Parent holds no further use for the interior pipe fds: each has been
	// handed to exactly one child via ExtraFiles and duplicated into its
	// table at fork time.
	for _, p := range pipes {
		p[0].Close()
		p[1].Close()
	}

	foreground := !pipeline.Background
	state := qshjob.Background
	if foreground {
		state = qshjob.Foreground
	}

	jid := l.Table.Add(leaderPid, n, state, pipeline.Text)
	for _, p := range procs[1:] {
		l.Table.AddMember(jid, p.cmd.Process.Pid)
	}

	// Only now that the job is registered may any helper be allowed to
	// exec: this ordering is what lets qsh dispense with SIGCHLD masking
	// around registration entirely.
	for _, p := range procs {
		p.contWrite.Close()
	}

	if foreground {
		l.Table.WaitNoForeground()
		if err := setForegroundPgrp(l.ShellPgid); err != nil {
			logger.Warnf("restore shell foreground pgrp; error: %s", err)
		}
	} else {
		fmt.Printf("[%d] %d %s\n", jid, leaderPid, pipeline.Text)
	}

	return nil
}

func closeAll(procs []*process) {
	for _, p := range procs {
		if p == nil {
			continue
		}
		p.cmdWrite.Close()
		p.contWrite.Close()
	}
}

// setForegroundPgrp transfers the controlling terminal to pgid on stdin,
// stdout, and stderr, tolerating a redirected shell descriptor.
func setForegroundPgrp(pgid int) error {
	var firstErr error
	for _, fd := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
