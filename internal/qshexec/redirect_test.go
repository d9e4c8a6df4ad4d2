package qshexec

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/tjper/qsh/internal/qshparse"
)

func TestApplyRedirectionsOpenTruncate(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	saved, err := unix.Dup(unix.Stdout)
	if err != nil {
		t.Fatalf("dup stdout: %v", err)
	}
	defer func() {
		unix.Dup2(saved, unix.Stdout)
		unix.Close(saved)
	}()

	err = applyRedirections([]qshparse.Redirection{
		{Direction: qshparse.Stdout, Mode: qshparse.OpenTruncate, Target: target},
	})
	if err != nil {
		t.Fatalf("applyRedirections: %v", err)
	}

	unix.Write(unix.Stdout, []byte("hello\n"))
	unix.Dup2(saved, unix.Stdout)

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("target contents = %q, want %q", got, "hello\n")
	}
}

func TestApplyRedirectionsClose(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	saved, err := unix.Dup(unix.Stdout)
	if err != nil {
		t.Fatalf("dup stdout: %v", err)
	}
	defer func() {
		unix.Dup2(saved, unix.Stdout)
		unix.Close(saved)
	}()
	if err := unix.Dup2(int(w.Fd()), unix.Stdout); err != nil {
		t.Fatalf("dup2: %v", err)
	}
	w.Close()

	if err := applyRedirections([]qshparse.Redirection{
		{Direction: qshparse.Stdout, Mode: qshparse.Close},
	}); err != nil {
		t.Fatalf("applyRedirections: %v", err)
	}

	_, writeErr := unix.Write(unix.Stdout, []byte("x"))
	if writeErr == nil {
		t.Fatalf("expected write to a closed fd 1 to fail")
	}
}
