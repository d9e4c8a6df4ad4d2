package qshshell

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tjper/qsh/internal/qshbuiltin"
	"github.com/tjper/qsh/internal/qshjob"
	"github.com/tjper/qsh/internal/qshparse"
)

func newTestShell() (*Shell, *bytes.Buffer) {
	var out bytes.Buffer
	s := New(&out, 1)
	return s, &out
}

func TestExecuteDispatchesBuiltin(t *testing.T) {
	s, _ := newTestShell()

	pipeline := qshparse.Pipeline{Commands: []qshparse.Command{{Argv: []string{"exit"}}}}
	if err := s.Execute(context.Background(), pipeline); !errors.Is(err, qshbuiltin.ErrExit) {
		t.Fatalf("Execute(exit) = %v, want ErrExit", err)
	}
}

func TestExecuteJobsBuiltinPrintsToStdout(t *testing.T) {
	s, out := newTestShell()
	s.table.Add(100, 1, qshjob.Background, "sleep 5")

	pipeline := qshparse.Pipeline{Commands: []qshparse.Command{{Argv: []string{"jobs"}}}}
	if err := s.Execute(context.Background(), pipeline); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() == 0 {
		t.Fatalf("expected jobs output, got none")
	}
}

func TestUlimitWithoutCgroupsReportsError(t *testing.T) {
	s, _ := newTestShell()
	s.cgroups = nil

	pipeline := qshparse.Pipeline{Commands: []qshparse.Command{{Argv: []string{"ulimit", "%1"}}}}
	if err := s.Execute(context.Background(), pipeline); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
