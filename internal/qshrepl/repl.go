// Package qshrepl drives the interactive read-eval-print loop: it prompts,
// reads a line, splits it into pipelines, and hands each pipeline to a
// qshshell.Shell.
//
// Grounded on haricheung-agentic-shell's cmd/agsh runREPL function for the
// chzyer/readline wiring (history file, interrupt prompt, EOF handling).
package qshrepl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"

	"github.com/tjper/qsh/internal/log"
	"github.com/tjper/qsh/internal/qshbuiltin"
	"github.com/tjper/qsh/internal/qshparse"
)

var logger = log.New(os.Stdout, "qshrepl")

// maxLine is the line-length a source line is truncated to.
const maxLine = 1024

// Executor is the subset of qshshell.Shell the REPL depends on.
type Executor interface {
	Execute(ctx context.Context, pipeline qshparse.Pipeline) error
}

// Run reads lines from stdin until EOF or the `exit` built-in, dispatching
// each line's pipelines to shell. It returns nil on a clean EOF or `exit`,
// and a non-nil error only when readline fails to initialize or to read a
// line.
func Run(ctx context.Context, shell Executor) error {
	historyFile := historyPath()

	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:       historyFile,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return fmt.Errorf("qshrepl: init readline: %w", err)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(prompt())

		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			fmt.Println()
			return nil
		case err != nil:
			return fmt.Errorf("qshrepl: readline: %w", err)
		}

		if len(line) > maxLine {
			line = line[:maxLine]
		}

		if err := runLine(ctx, shell, line); errors.Is(err, qshbuiltin.ErrExit) {
			return nil
		}
	}
}

// runLine parses line into pipelines and executes each in turn, stopping at
// the first one that returns qshbuiltin.ErrExit. A line that fails to parse
// runs none of its pipelines.
func runLine(ctx context.Context, shell Executor, line string) error {
	pipelines, err := qshparse.ParseLine(line)
	if err != nil {
		logger.Warnf("parse %q: %s", line, err)
		return nil
	}

	for _, pipeline := range pipelines {
		if len(pipeline.Commands) == 0 {
			continue
		}
		if err := shell.Execute(ctx, pipeline); err != nil {
			if errors.Is(err, qshbuiltin.ErrExit) {
				return err
			}
			logger.Warnf("execute %q: %s", pipeline.Text, err)
		}
	}
	return nil
}

// prompt assembles "<user>:<cwd>:<HH:MM:SS>> ". The login segment comes from
// $LOGNAME, empty if unset, per qsh's documented environment-variable
// contract; cwd falls back to "?" if it can't be resolved.
func prompt() string {
	name := os.Getenv("LOGNAME")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "?"
	} else if home, err := os.UserHomeDir(); err == nil && home != "" {
		if rel, err := filepath.Rel(home, cwd); err == nil && rel != ".." && len(rel) < len(cwd) {
			cwd = "~/" + rel
			if rel == "." {
				cwd = "~"
			}
		}
	}

	return fmt.Sprintf("%s:%s:%s> ", name, cwd, time.Now().Format("15:04:05"))
}

func historyPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "qsh")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}
