package qshbuiltin

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/tjper/qsh/internal/qshjob"
)

type fakeHost struct {
	table       *qshjob.Table
	out         bytes.Buffer
	chdirErr    error
	chdirCalls  []string
	fgPgrpCalls []int
	shellPgid   int
}

func (h *fakeHost) Table() *qshjob.Table { return h.table }
func (h *fakeHost) Chdir(path string) error {
	h.chdirCalls = append(h.chdirCalls, path)
	return h.chdirErr
}
func (h *fakeHost) Stdout() io.Writer { return &h.out }
func (h *fakeHost) SetForegroundPgrp(pgid int) error {
	h.fgPgrpCalls = append(h.fgPgrpCalls, pgid)
	return nil
}
func (h *fakeHost) ShellPgid() int { return h.shellPgid }

func newFakeHost() *fakeHost {
	return &fakeHost{table: qshjob.NewTable(nil), shellPgid: 1}
}

func TestDispatchExit(t *testing.T) {
	h := newFakeHost()
	err := Dispatch(h, "exit", nil)
	if !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
}

func TestDispatchCdDefaultsToHome(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	h := newFakeHost()

	if err := Dispatch(h, "cd", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.chdirCalls) != 1 || h.chdirCalls[0] != "/home/test" {
		t.Fatalf("Chdir calls = %v, want [/home/test]", h.chdirCalls)
	}
}

func TestDispatchJobsListsLiveJobs(t *testing.T) {
	h := newFakeHost()
	h.table.Add(100, 1, qshjob.Background, "sleep 5")

	if err := Dispatch(h, "jobs", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "[1] Running sleep 5\n"
	if got := h.out.String(); got != want {
		t.Fatalf("jobs output = %q, want %q", got, want)
	}
}

func TestTargetJidRequiresPercentPrefix(t *testing.T) {
	if _, err := targetJid([]string{"3"}); err == nil {
		t.Fatalf("expected an error for a job argument missing '%%'")
	}
	jid, err := targetJid([]string{"%3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jid != 3 {
		t.Fatalf("jid = %d, want 3", jid)
	}
}

func TestTargetJidDefaultsToOne(t *testing.T) {
	jid, err := targetJid(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jid != 1 {
		t.Fatalf("jid = %d, want 1", jid)
	}
}

func TestFgbgUnknownJobReportsError(t *testing.T) {
	h := newFakeHost()
	if err := Dispatch(h, "bg", []string{"%9"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFgRestoresShellForegroundPgrpAfterWait(t *testing.T) {
	h := newFakeHost()
	h.shellPgid = 4242
	jid := h.table.Add(100, 1, qshjob.Background, "sleep 5")
	job := h.table.FindByJid(jid)

	stopped := make(chan struct{})
	go func() {
		for h.table.FindForeground() == 0 {
		}
		h.table.SetState(job, qshjob.Stopped)
		close(stopped)
	}()

	if err := Dispatch(h, "fg", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-stopped

	if len(h.fgPgrpCalls) != 2 {
		t.Fatalf("SetForegroundPgrp calls = %v, want [job pgrp, shell pgrp]", h.fgPgrpCalls)
	}
	if got := h.fgPgrpCalls[1]; got != h.shellPgid {
		t.Fatalf("final SetForegroundPgrp call = %d, want shell pgid %d", got, h.shellPgid)
	}
}

func TestBgAlreadyBackground(t *testing.T) {
	h := newFakeHost()
	h.table.Add(100, 1, qshjob.Background, "sleep 5")

	if err := Dispatch(h, "bg", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.out.String(); got != "Job already in background.\n" {
		t.Fatalf("output = %q", got)
	}
}
