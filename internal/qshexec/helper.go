package qshexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/tjper/qsh/internal/qshparse"
)

// HelperArg is the hidden argv[1] the shell re-execs its own binary with to
// reach RunHelper instead of the REPL entrypoint, following the same
// sentinel-argument pattern as jobworker.Reexec.
const HelperArg = "qsh-exec-helper"

const (
	// cmdFD and contFD are the fixed ExtraFiles slots every helper process
	// inherits: job spec JSON and the continue gate, respectively. Go maps
	// ExtraFiles[0] to fd 3, ExtraFiles[1] to fd 4.
	cmdFD  = 3
	contFD = 4
)

// HelperSpec is the job handed from the launcher to one exec-helper
// process over the command pipe.
type HelperSpec struct {
	Argv  []string
	Redir []qshparse.Redirection

	// StdinFD and StdoutFD are the inherited fd numbers of this command's
	// read/write end of an interior pipeline pipe, or -1 if this command
	// does not read/write a pipe on that side.
	StdinFD  int
	StdoutFD int

	// Foreground indicates this is the pipeline leader of a foreground job:
	// it alone transfers the controlling terminal to its own process group
	// before exec.
	Foreground bool
}

const (
	// helperExecFailure is the exit status used when the helper cannot even
	// reach exec (bad spec, redirection failure, program not found).
	helperExecFailure = 3
)

// RunHelper is the body of the exec helper process: it recovers the
// HelperSpec from fd 3, blocks on fd 4 until the parent signals it may
// proceed, applies redirections and pipe wiring, restores default
// disposition for the job-control signals the shell ignores, and execs the
// target program image. RunHelper only returns if setup fails before exec;
// on success the process image is replaced and this function never
// returns.
func RunHelper(ctx context.Context) int {
	spec, err := readSpec()
	if err != nil {
		fmt.Fprintln(os.Stderr, "qsh exec helper:", err)
		return helperExecFailure
	}

	if err := waitForContinue(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "qsh exec helper:", err)
		return helperExecFailure
	}

	if spec.Foreground {
		pgid, err := unix.Getpgid(os.Getpid())
		if err == nil {
			for _, fd := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
				_ = unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid)
			}
		}
	}

	// Restore default disposition for SIGTTIN/SIGTTOU/SIGINT/SIGTSTP, which
	// the shell ignores: an ignored signal's disposition survives exec,
	// unlike a caught one, and signal.Reset leaves an inherited SIG_IGN in
	// place. Catching them here makes exec reset them to default in the
	// target program. There is no SIGCHLD mask to unblock here: unlike
	// the source shell, qsh never blocks SIGCHLD around job registration in
	// the first place, because the continue pipe already guarantees this
	// process cannot exec (and so cannot exit) before the parent has
	// recorded its pid in the job table.
	signal.Notify(make(chan os.Signal, 1), unix.SIGTTIN, unix.SIGTTOU, unix.SIGINT, unix.SIGTSTP)

	if err := applyRedirections(spec.Redir); err != nil {
		fmt.Fprintln(os.Stderr, argv0(spec), ":", err)
		return helperExecFailure
	}
	if err := connectPipe(spec.StdoutFD, unix.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return helperExecFailure
	}
	if err := connectPipe(spec.StdinFD, unix.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return helperExecFailure
	}

	if len(spec.Argv) == 0 {
		return helperExecFailure
	}
	path, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		fmt.Printf("%s: Command not found.\n", spec.Argv[0])
		return helperExecFailure
	}

	if err := unix.Exec(path, spec.Argv, os.Environ()); err != nil {
		fmt.Printf("%s: Command not found.\n", spec.Argv[0])
		return helperExecFailure
	}
	panic("unreachable: unix.Exec returned without error")
}

func argv0(spec HelperSpec) string {
	if len(spec.Argv) == 0 {
		return "?"
	}
	return spec.Argv[0]
}

func readSpec() (HelperSpec, error) {
	cmdfd := os.NewFile(uintptr(cmdFD), "/proc/self/fd/3")
	if cmdfd == nil {
		return HelperSpec{}, errors.New("command pipe not found")
	}
	defer cmdfd.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(cmdfd); err != nil {
		return HelperSpec{}, errors.WithStack(err)
	}

	var spec HelperSpec
	if err := json.Unmarshal(buf.Bytes(), &spec); err != nil {
		return HelperSpec{}, errors.WithStack(err)
	}
	return spec, nil
}

// waitForContinue blocks until the parent closes its end of the continue
// pipe, which it only does once this process's pid has been recorded in
// the job table. This is what lets qsh leave SIGCHLD unblocked in the shell
// process during job registration.
func waitForContinue(ctx context.Context) error {
	contfd := os.NewFile(uintptr(contFD), "/proc/self/fd/4")
	if contfd == nil {
		return errors.New("continue pipe not found")
	}
	defer contfd.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	go func() {
		<-ctx.Done()
		contfd.Close()
	}()

	b := make([]byte, 1)
	_, err := contfd.Read(b)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.New("expected EOF on continue pipe")
}
