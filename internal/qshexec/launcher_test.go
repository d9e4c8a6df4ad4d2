package qshexec

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/tjper/qsh/internal/qshjob"
	"github.com/tjper/qsh/internal/qshexec/reaper"
	"github.com/tjper/qsh/internal/qshparse"
)

// TestMain lets this test binary also act as the exec helper: Launcher
// re-execs os.Executable(), which under `go test` is this compiled test
// binary, with HelperArg as argv[1]. This is the same self-reexec idiom
// os/exec's own tests use to avoid depending on an external test fixture
// binary.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[len(os.Args)-1] == HelperArg {
		os.Exit(RunHelper(context.Background()))
	}
	os.Exit(m.Run())
}

func TestLaunchSingleCommandForeground(t *testing.T) {
	var out bytes.Buffer
	table := qshjob.NewTable(&out)
	r := reaper.Install(table)
	defer r.Stop()

	l := NewLauncher(table, os.Getpid())

	pipeline := qshparse.Pipeline{
		Commands: []qshparse.Command{{Argv: []string{"true"}}},
		Text:     "true",
	}

	done := make(chan error, 1)
	go func() { done <- l.Launch(context.Background(), pipeline) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Launch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Launch did not return")
	}
}

func TestLaunchBackgroundReturnsAndIsReaped(t *testing.T) {
	var out bytes.Buffer
	table := qshjob.NewTable(&out)
	r := reaper.Install(table)
	defer r.Stop()

	l := NewLauncher(table, os.Getpid())

	pipeline := qshparse.Pipeline{
		Commands:   []qshparse.Command{{Argv: []string{"sleep", "0"}}},
		Text:       "sleep 0 &",
		Background: true,
	}

	if err := l.Launch(context.Background(), pipeline); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if table.FindByJid(1) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("background job was not eventually reaped")
}
