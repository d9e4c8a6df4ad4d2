// Package errors classifies qsh's error taxonomy: user syntax errors, shell
// built-in errors, and the two classes of system-call failure (recoverable
// and fatal). The four constructors (AppFatal, AppError, UnixError,
// UnixFatal) return values instead of calling exit() directly, so callers
// (ultimately only internal/qshcli) decide when the process actually
// terminates.
package errors

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Wrap returns a new error wrapping the passed error, recording a stack
// trace at the call site. If the passed error is nil, nil is returned.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// FatalError indicates the shell cannot continue running and must exit with
// Code.
type FatalError struct {
	Code int
	msg  string
}

func (e *FatalError) Error() string { return e.msg }

// AppError reports a user-visible error caused by the application (bad
// syntax, unknown job id, a failed built-in) to stdout. The shell continues
// running; this never returns an error value because none of its callers
// need to react beyond having already printed the message.
func AppError(msg string) {
	fmt.Fprintln(os.Stdout, msg)
}

// AppFatal reports an application-fatal error and returns a FatalError
// carrying exit status 2, per qsh's error taxonomy.
func AppFatal(msg string) *FatalError {
	fmt.Fprintln(os.Stdout, msg)
	return &FatalError{Code: 2, msg: msg}
}

// UnixError reports a recoverable system-call failure in perror(3) style:
// "<msg>: <errno text>". The shell continues running.
func UnixError(msg string, err error) {
	fmt.Fprintf(os.Stdout, "%s: %s\n", msg, err)
}

// UnixFatal reports a system-call failure that indicates a broken shell
// invariant (cannot fork, cannot set process group, ...) and returns a
// FatalError carrying exit status 1.
func UnixFatal(msg string, err error) *FatalError {
	text := fmt.Sprintf("%s: %s", msg, err)
	fmt.Fprintln(os.Stdout, text)
	return &FatalError{Code: 1, msg: text}
}
