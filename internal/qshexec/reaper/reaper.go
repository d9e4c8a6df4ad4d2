// Package reaper installs qsh's interactive signal handlers and runs the
// asynchronous child-status reaper that keeps the job table in sync with
// the kernel's view of every job's member processes.
//
// Follows the jobworker cli.serve signal-driven run loop combined with a
// POSIX shell's mysignal/sigchld_handler discipline: SA_RESTART-style
// durability is approximated with signal.Notify (which Go's runtime already
// services reliably across blocking syscalls), and the handler's job is
// reduced to classifying a wait4 status and delegating to the job table.
package reaper

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/tjper/qsh/internal/log"
	"github.com/tjper/qsh/internal/qshjob"
)

var logger = log.New(os.Stdout, "reaper")

// Reaper owns the background goroutine that drains SIGCHLD notifications
// into Table.OnChildEvent calls.
type Reaper struct {
	table *qshjob.Table
	sigc  chan os.Signal
	done  chan struct{}
}

// Install registers qsh's signal discipline: SIGCHLD is caught and reaped
// into table; SIGTTIN and SIGTTOU are ignored in the shell itself (reset to
// default only inside exec-helper children, see qshexec.RunHelper); SIGINT
// and SIGTSTP are also ignored in the shell process itself, so Ctrl-C/Ctrl-Z
// typed at the prompt never kill or stop qsh — a foreground job lives in its
// own process group, and qshexec.RunHelper restores default disposition for
// all four signals before exec. Install starts the reaper goroutine and returns a handle
// whose Stop ends it.
func Install(table *qshjob.Table) *Reaper {
	signal.Ignore(unix.SIGTTIN, unix.SIGTTOU, unix.SIGINT, unix.SIGTSTP)

	r := &Reaper{
		table: table,
		sigc:  make(chan os.Signal, 16),
		done:  make(chan struct{}),
	}
	signal.Notify(r.sigc, unix.SIGCHLD)

	go r.run()
	return r
}

// Stop ends the reaper goroutine. It does not restore default disposition
// for SIGTTIN/SIGTTOU/SIGINT/SIGTSTP.
func (r *Reaper) Stop() {
	signal.Stop(r.sigc)
	close(r.done)
}

func (r *Reaper) run() {
	for {
		select {
		case <-r.done:
			return
		case <-r.sigc:
			r.reapAll()
		}
	}
}

// reapAll drains every pending child-status change via WNOHANG in a wait4
// loop, classifying each into a qshjob.Event.
func (r *Reaper) reapAll() {
	var status unix.WaitStatus
	for {
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err != nil || pid <= 0 {
			return
		}

		ev := classify(pid, status)
		r.table.OnChildEvent(ev)
	}
}

func classify(pid int, status unix.WaitStatus) qshjob.Event {
	switch {
	case status.Stopped():
		return qshjob.Event{Kind: qshjob.EventStopped, Pid: pid, Signal: int(status.StopSignal())}
	case status.Continued():
		return qshjob.Event{Kind: qshjob.EventContinued, Pid: pid}
	case status.Signaled():
		return qshjob.Event{Kind: qshjob.EventSignaled, Pid: pid, Signal: int(status.Signal())}
	default:
		return qshjob.Event{Kind: qshjob.EventExited, Pid: pid, Status: status.ExitStatus()}
	}
}
