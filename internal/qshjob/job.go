// Package qshjob implements qsh's job table: the fixed-capacity store of
// active jobs, jid assignment, the pid->jid reverse index, and the state
// transitions driven by the reaper.
//
// Follows the jobworker job.Job shape (mutex-guarded status, uuid
// identity) generalized from one job per Service to a fixed-capacity table
// of many concurrently live jobs.
package qshjob

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// State is a Job's lifecycle state.
type State int

const (
	Undef State = iota
	Foreground
	Background
	Stopped
	Done
	Killed
)

// String renders State using the exact vocabulary the job listing line
// format requires.
func (s State) String() string {
	switch s {
	case Foreground:
		return "Foreground"
	case Background:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	case Killed:
		return "Killed"
	default:
		return "Undefined"
	}
}

// Job represents a pipeline submitted to the OS and tracked through its
// lifecycle.
type Job struct {
	// TraceID is an internal correlation id, logged alongside Jid; it plays
	// no part in the job-id contract fg/bg/jobs expose to the user.
	TraceID uuid.UUID

	Jid         int
	LeaderPid   int
	MemberCount int
	Cmdline     string

	state     State
	remaining int
}

// Line renders the Job as "[<jid>] (<pid>) <state> <cmdline>".
func (j *Job) Line() string {
	return fmt.Sprintf("[%d] (%d) %s %s", j.Jid, j.LeaderPid, j.state, j.Cmdline)
}

// State returns the Job's current state.
func (j *Job) State() State { return j.state }

// EventKind classifies a child-status transition observed by the reaper.
type EventKind int

const (
	EventStopped EventKind = iota
	EventContinued
	EventExited
	EventSignaled
)

// Event is the reaper's report of a single pid's status change.
type Event struct {
	Kind   EventKind
	Pid    int
	Status int // exit code for EventExited
	Signal int // stopping/terminating signal for EventStopped/EventSignaled
}

// Capacity is the job table's fixed slot count; nothing below depends on
// the exact value.
const Capacity = 128

// Table is the fixed-capacity job table. Rather than serializing access by
// masking SIGCHLD around critical sections on a single thread, qsh's reaper
// runs on its own goroutine: Table guards
// itself with a mutex and a condition variable, which the reaper broadcasts
// on after every mutation so WaitNoForeground can block the REPL goroutine
// without polling.
type Table struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots  [Capacity]*Job
	pidJid map[int]int

	// Out receives the printed lines on_child_event, fg, and bg are
	// specified to emit (job-state transition lines, DONE/KILLED/CONTINUED
	// announcements). Defaults to io.Discard if nil.
	Out io.Writer
}

// NewTable returns an empty Table that writes job transition lines to out.
func NewTable(out io.Writer) *Table {
	if out == nil {
		out = io.Discard
	}
	t := &Table{pidJid: make(map[int]int), Out: out}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Table) printf(format string, args ...any) {
	fmt.Fprintf(t.Out, format, args...)
}

// Add finds the lowest free slot, records a new Job there, populates the
// pid->jid reverse index for the leader (callers with multi-process
// pipelines also register each member pid explicitly via AddMember), and
// returns the assigned jid. Returns 0 if the table is full.
func (t *Table) Add(leaderPid, memberCount int, state State, cmdline string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.cond.Broadcast()

	slot := -1
	for i, j := range t.slots {
		if j == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0
	}

	job := &Job{
		TraceID:     uuid.New(),
		Jid:         slot + 1,
		LeaderPid:   leaderPid,
		MemberCount: memberCount,
		Cmdline:     cmdline,
		state:       state,
		remaining:   memberCount,
	}
	t.slots[slot] = job
	t.pidJid[leaderPid] = job.Jid
	return job.Jid
}

// AddMember registers an additional member pid (beyond the leader) of the
// job identified by jid in the pid->jid reverse index.
func (t *Table) AddMember(jid, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pidJid[pid] = jid
}

// FindByJid returns the live Job with the given jid, or nil.
func (t *Table) FindByJid(jid int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findByJidLocked(jid)
}

func (t *Table) findByJidLocked(jid int) *Job {
	if jid < 1 || jid > Capacity {
		return nil
	}
	return t.slots[jid-1]
}

// findByPid resolves a pid to its Job via the reverse index. Callers must
// hold t.mu.
func (t *Table) findByPid(pid int) *Job {
	jid, ok := t.pidJid[pid]
	if !ok {
		return nil
	}
	return t.findByJidLocked(jid)
}

// FindForeground returns the leader pid of the single FOREGROUND job, or 0
// if none is foreground.
func (t *Table) FindForeground() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findForegroundLocked()
}

func (t *Table) findForegroundLocked() int {
	for _, j := range t.slots {
		if j != nil && j.state == Foreground {
			return j.LeaderPid
		}
	}
	return 0
}

// WaitNoForeground blocks until no job has state FOREGROUND, implementing
// the pipeline launcher's foreground wait as a predicate-wait driven by the
// reaper rather than a direct blocking wait4 call, so that a SIGTSTP-driven
// stop (not only an exit) correctly unblocks it.
func (t *Table) WaitNoForeground() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.findForegroundLocked() != 0 {
		t.cond.Wait()
	}
}

// List returns every live Job, in ascending jid order.
func (t *Table) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := make([]*Job, 0, Capacity)
	for _, j := range t.slots {
		if j != nil {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// clear removes the Job occupying jid's slot and its pid->jid entries.
func (t *Table) clear(j *Job) {
	t.slots[j.Jid-1] = nil
	for pid, jid := range t.pidJid {
		if jid == j.Jid {
			delete(t.pidJid, pid)
		}
	}
}

// SetState transitions a live Job's state directly, for fg/bg built-ins
// that reassign FOREGROUND/BACKGROUND/STOPPED outside of a reaper event.
func (t *Table) SetState(j *Job, s State) {
	t.mu.Lock()
	j.state = s
	t.mu.Unlock()
	t.cond.Broadcast()
}

// OnChildEvent applies one reaper-observed status transition to the job
// owning ev.Pid, per the transition table: STOPPED prints a blank line
// (when the job was foreground) and the job's STOP line; CONTINUED prints
// a CONTINUED line unless the job was already BACKGROUND; EXITED or any
// SIGNALED other than SIGINT (including SIGKILL) decrements remaining and,
// at zero, prints a status line (unless the job ended FOREGROUND/UNDEF) and
// clears the slot, so a SIGKILL'd member of a multi-process pipeline waits
// for its siblings the same way a normally-exited one does instead of
// tearing down the whole job's slot and pid index early; SIGNALED(SIGINT)
// prints a blank line and clears. A pid with no owning job is a no-op.
func (t *Table) OnChildEvent(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.cond.Broadcast()

	j := t.findByPid(ev.Pid)
	if j == nil {
		return
	}

	switch ev.Kind {
	case EventStopped:
		wasFG := j.state == Foreground
		j.state = Stopped
		if wasFG {
			t.printf("\n")
		}
		t.printf("%s\n", j.Line())

	case EventContinued:
		wasBG := j.state == Background
		if !wasBG {
			t.printf("[%d] (%d) Continued %s\n", j.Jid, j.LeaderPid, j.Cmdline)
		}

	case EventSignaled:
		switch unix.Signal(ev.Signal) {
		case unix.SIGKILL:
			j.state = Killed
			t.decrementAndMaybeClear(j)
		case unix.SIGINT:
			t.printf("\n")
			t.clear(j)
		default:
			t.decrementAndMaybeClear(j)
		}

	case EventExited:
		t.decrementAndMaybeClear(j)
	}
}

// decrementAndMaybeClear decrements a job's outstanding member count and, once
// every member has reported a terminal event, prints its final line (unless
// it ended FOREGROUND or was never assigned a state) and clears its slot. A
// job whose state was set to Killed by an earlier member's SIGKILL keeps
// that state until the last member reports in, so the KILLED line prints
// exactly once, after the whole pipeline has wound down.
func (t *Table) decrementAndMaybeClear(j *Job) {
	j.remaining--
	if j.remaining > 0 {
		return
	}
	if j.state != Foreground && j.state != Undef {
		if j.state != Killed {
			j.state = Done
		}
		t.printf("%s\n", j.Line())
	}
	t.clear(j)
}
