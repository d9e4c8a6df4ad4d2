// Package qshparse implements qsh's lexer/parser: splitting a line into
// pipelines and commands, tokenizing with quote handling, and classifying
// tokens into argv elements and redirections.
package qshparse

import (
	"os"
	"strings"
)

// Direction identifies which standard descriptor a Redirection affects.
type Direction int

const (
	Stdin Direction = iota
	Stdout
	Stderr
)

// Mode identifies the kind of descriptor operation a Redirection performs.
type Mode int

const (
	// OpenTruncate opens Target for reading (Stdin) or writing with
	// truncation (Stdout/Stderr).
	OpenTruncate Mode = iota
	// OpenAppend opens Target for writing, appending.
	OpenAppend
	// Close closes the direction's descriptor.
	Close
	// DupToStdout duplicates the shell's current stdout descriptor onto the
	// direction's descriptor.
	DupToStdout
	// DupToStderr duplicates the shell's current stderr descriptor onto the
	// direction's descriptor.
	DupToStderr
)

// Redirection is a single descriptor operation to be applied, in order,
// before a child execs.
type Redirection struct {
	Direction Direction
	Mode      Mode
	Target    string
}

// Command is a single program invocation: its argv and the redirections
// that must be applied to it before exec.
type Command struct {
	Argv  []string
	Redir []Redirection
}

// Pipeline is an ordered sequence of Commands connected by pipes, launched
// together as one job.
type Pipeline struct {
	Commands   []Command
	Text       string
	Background bool
}

// syntaxError is the type of ErrSpaceBeforeDelimiter, which is returned
// unwrapped when a ';' or '|' is found immediately after a non-whitespace
// character.
type syntaxError struct{ msg string }

func (e *syntaxError) Error() string { return e.msg }

// ErrSpaceBeforeDelimiter is returned when a ';' or '|' is not preceded by
// whitespace.
var ErrSpaceBeforeDelimiter error = &syntaxError{msg: "There must be space before a delimiter."}

// ParseLine splits text into Pipelines. ParseLine is total: it always
// returns either a (possibly empty) slice of Pipelines or a non-nil error,
// and never panics or blocks.
func ParseLine(text string) ([]Pipeline, error) {
	segments, err := splitDelimited(text, ';')
	if err != nil {
		return nil, err
	}

	pipelines := make([]Pipeline, 0, len(segments))
	for _, segment := range segments {
		trimmed := strings.TrimRight(segment, " \t")
		if trimmed == "" {
			continue
		}

		background := false
		if strings.HasSuffix(trimmed, "&") {
			background = true
			trimmed = strings.TrimRight(trimmed[:len(trimmed)-1], " \t")
		}

		subcommands, err := splitDelimited(trimmed, '|')
		if err != nil {
			return nil, err
		}

		commands := make([]Command, 0, len(subcommands))
		for _, sub := range subcommands {
			commands = append(commands, parseCommand(sub))
		}

		pipelines = append(pipelines, Pipeline{
			Commands:   commands,
			Text:       strings.TrimLeft(segment, " \t"),
			Background: background,
		})
	}

	return pipelines, nil
}

// splitDelimited splits s on delim, requiring whitespace immediately before
// every delimiter occurrence outside of quotes.
func splitDelimited(s string, delim byte) ([]string, error) {
	var (
		parts   []string
		start   int
		quote   byte
		inQuote bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == quote {
				inQuote = false
			}
		case c == '\'' || c == '"':
			inQuote = true
			quote = c
		case c == delim:
			if i == 0 || !isSpace(s[i-1]) {
				return nil, ErrSpaceBeforeDelimiter
			}
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])

	return parts, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

// parseCommand tokenizes a single pipeline stage and classifies each token
// into an argv element or a Redirection.
func parseCommand(segment string) Command {
	tokens, quoted := tokenize(segment)

	cmd := Command{}
	for i, tok := range tokens {
		if quoted[i] {
			// Quoting never escapes a redirection operator and suppresses
			// tilde/glob expansion: a quoted token is always a literal argv
			// element.
			cmd.Argv = append(cmd.Argv, tok)
			continue
		}

		if redir, ok := classifyRedirection(tok); ok {
			cmd.Redir = append(cmd.Redir, redir)
			continue
		}

		if tok == "*" {
			cmd.Argv = append(cmd.Argv, expandGlob()...)
			continue
		}

		if strings.HasPrefix(tok, "~") {
			cmd.Argv = append(cmd.Argv, os.Getenv("HOME")+tok[1:])
			continue
		}

		cmd.Argv = append(cmd.Argv, tok)
	}

	return cmd
}

// tokenize splits segment on whitespace, honoring single/double quotes as
// token delimiters. An unterminated quote runs to the end of the segment.
// The second return value marks, per token, whether it was produced from a
// quoted run (and so is exempt from redirection/tilde/glob classification).
func tokenize(segment string) ([]string, []bool) {
	var (
		tokens []string
		quoted []bool
		i      = 0
		n      = len(segment)
	)

	for i < n {
		for i < n && isSpace(segment[i]) {
			i++
		}
		if i >= n {
			break
		}

		if segment[i] == '\'' || segment[i] == '"' {
			q := segment[i]
			i++
			start := i
			for i < n && segment[i] != q {
				i++
			}
			tokens = append(tokens, segment[start:i])
			quoted = append(quoted, true)
			if i < n {
				i++ // consume closing quote
			}
			continue
		}

		start := i
		for i < n && !isSpace(segment[i]) {
			i++
		}
		tokens = append(tokens, segment[start:i])
		quoted = append(quoted, false)
	}

	return tokens, quoted
}

// classifyRedirection recognizes qsh's redirection token syntax
// (1>, 2>, <, >, >>, &-, &1, &2). ok is false if tok is not a redirection
// token, in which case it should be treated as an argv element.
func classifyRedirection(tok string) (Redirection, bool) {
	var (
		direction Direction
		rest      string
	)

	switch {
	case strings.HasPrefix(tok, "1>"):
		direction = Stdout
		rest = tok[2:]
	case strings.HasPrefix(tok, "2>"):
		direction = Stderr
		rest = tok[2:]
	case strings.HasPrefix(tok, "<"):
		direction = Stdin
		rest = tok[1:]
	case strings.HasPrefix(tok, ">"):
		direction = Stdout
		rest = tok[1:]
	default:
		return Redirection{}, false
	}

	r := Redirection{Direction: direction}
	switch {
	case strings.HasPrefix(rest, ">"):
		r.Mode = OpenAppend
		r.Target = rest[1:]
	case rest == "&-":
		r.Mode = Close
		r.Target = ""
	default:
		r.Mode = OpenTruncate
		r.Target = rest
	}

	switch r.Target {
	case "&1":
		r.Mode = DupToStdout
		r.Target = ""
	case "&2":
		r.Mode = DupToStderr
		r.Target = ""
	}

	return r, true
}

// expandGlob returns the names of all non-dotfile entries of the current
// working directory, in os.ReadDir's lexical order. A failure to read the
// directory expands to no argv elements rather than aborting the whole
// parse.
func expandGlob() []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	return names
}
