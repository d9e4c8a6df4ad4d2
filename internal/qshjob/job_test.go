package qshjob

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func TestAddAssignsLowestFreeSlot(t *testing.T) {
	tbl := NewTable(nil)

	jid1 := tbl.Add(100, 1, Background, "sleep 1")
	jid2 := tbl.Add(200, 1, Background, "sleep 2")
	if jid1 != 1 || jid2 != 2 {
		t.Fatalf("got jids %d, %d, want 1, 2", jid1, jid2)
	}

	tbl.OnChildEvent(Event{Kind: EventExited, Pid: 100})
	if tbl.FindByJid(1) != nil {
		t.Fatalf("expected slot 1 to be cleared")
	}

	jid3 := tbl.Add(300, 1, Background, "sleep 3")
	if jid3 != 1 {
		t.Fatalf("expected freed slot 1 to be reused, got %d", jid3)
	}
}

func TestAtMostOneForeground(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add(100, 1, Foreground, "vi")

	if pid := tbl.FindForeground(); pid != 100 {
		t.Fatalf("FindForeground = %d, want 100", pid)
	}

	j := tbl.FindByJid(1)
	tbl.SetState(j, Background)
	if pid := tbl.FindForeground(); pid != 0 {
		t.Fatalf("FindForeground = %d, want 0 after backgrounding", pid)
	}
}

func TestOnChildEventExitedClearsAtZeroRemaining(t *testing.T) {
	var out bytes.Buffer
	tbl := NewTable(&out)
	jid := tbl.Add(100, 2, Background, "ls | wc -l")
	tbl.AddMember(jid, 101)

	tbl.OnChildEvent(Event{Kind: EventExited, Pid: 100})
	if tbl.FindByJid(jid) == nil {
		t.Fatalf("job cleared before remaining reached zero")
	}

	tbl.OnChildEvent(Event{Kind: EventExited, Pid: 101})
	if tbl.FindByJid(jid) != nil {
		t.Fatalf("job not cleared once remaining reached zero")
	}
	if out.Len() == 0 {
		t.Fatalf("expected a DONE line to be printed")
	}
}

func TestOnChildEventForegroundExitSuppressesDoneLine(t *testing.T) {
	var out bytes.Buffer
	tbl := NewTable(&out)
	tbl.Add(100, 1, Foreground, "vi")

	tbl.OnChildEvent(Event{Kind: EventExited, Pid: 100})
	if out.Len() != 0 {
		t.Fatalf("expected no DONE line for a foreground job, got %q", out.String())
	}
	if tbl.FindByJid(1) != nil {
		t.Fatalf("expected slot to be cleared regardless of printing")
	}
}

func TestOnChildEventStopped(t *testing.T) {
	var out bytes.Buffer
	tbl := NewTable(&out)
	tbl.Add(100, 1, Foreground, "vi")

	tbl.OnChildEvent(Event{Kind: EventStopped, Pid: 100, Signal: int(unix.SIGTSTP)})

	j := tbl.FindByJid(1)
	if j == nil {
		t.Fatalf("stopped job must remain in the table")
	}
	if j.State() != Stopped {
		t.Fatalf("state = %v, want Stopped", j.State())
	}
	if out.Len() == 0 {
		t.Fatalf("expected output for a stopped foreground job")
	}
}

func TestOnChildEventSignaledSigkill(t *testing.T) {
	var out bytes.Buffer
	tbl := NewTable(&out)
	tbl.Add(100, 1, Background, "yes")

	tbl.OnChildEvent(Event{Kind: EventSignaled, Pid: 100, Signal: int(unix.SIGKILL)})
	if tbl.FindByJid(1) != nil {
		t.Fatalf("expected job to be cleared after SIGKILL")
	}
}

func TestOnChildEventSignaledSigkillWaitsForPipelineSiblings(t *testing.T) {
	var out bytes.Buffer
	tbl := NewTable(&out)
	jid := tbl.Add(100, 2, Background, "yes | sleep 5")
	tbl.AddMember(jid, 101)

	tbl.OnChildEvent(Event{Kind: EventSignaled, Pid: 100, Signal: int(unix.SIGKILL)})
	j := tbl.FindByJid(jid)
	if j == nil {
		t.Fatalf("job cleared before every pipeline member reported in")
	}
	if j.State() != Killed {
		t.Fatalf("state = %v, want Killed", j.State())
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output until the last member exits, got %q", out.String())
	}

	tbl.OnChildEvent(Event{Kind: EventExited, Pid: 101})
	if tbl.FindByJid(jid) != nil {
		t.Fatalf("expected job to be cleared once the last member reported in")
	}
	if out.Len() == 0 {
		t.Fatalf("expected a KILLED line once remaining reached zero")
	}
}

func TestOnChildEventUnknownPidIsNoop(t *testing.T) {
	tbl := NewTable(nil)
	tbl.OnChildEvent(Event{Kind: EventExited, Pid: 9999})
}

func TestJobLineFormat(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add(100, 1, Background, "sleep 5")
	j := tbl.FindByJid(1)

	want := "[1] (100) Running sleep 5"
	if got := j.Line(); got != want {
		t.Fatalf("Line() = %q, want %q", got, want)
	}
}
