package qshexec

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tjper/qsh/internal/qshparse"
)

// fileMode is the permission bits given to newly created redirection
// targets, subject to umask.
const fileMode = 0664

// applyRedirections runs the Redirection list against the calling process's
// own descriptor table, in order, exactly as the redirection planner
// specifies: CLOSE, OPEN_TRUNCATE/OPEN_APPEND on the named target, or a
// dup2 from the shell's already-open stdout/stderr. It must be called after
// this process is the intended target of exec (i.e. inside the exec
// helper), and before the pipeline's own pipe descriptors are wired, so
// that pipe wiring always wins over a user redirection naming the same fd.
func applyRedirections(redirs []qshparse.Redirection) error {
	for _, r := range redirs {
		fd := int(r.Direction)

		switch r.Mode {
		case qshparse.Close:
			if err := unix.Close(fd); err != nil {
				return fmt.Errorf("close fd %d: %w", fd, err)
			}

		case qshparse.DupToStdout:
			if err := dup2(unix.Stdout, fd); err != nil {
				return fmt.Errorf("dup stdout onto fd %d: %w", fd, err)
			}

		case qshparse.DupToStderr:
			if err := dup2(unix.Stderr, fd); err != nil {
				return fmt.Errorf("dup stderr onto fd %d: %w", fd, err)
			}

		case qshparse.OpenTruncate, qshparse.OpenAppend:
			flags := unix.O_CREAT | unix.O_WRONLY
			if r.Mode == qshparse.OpenAppend {
				flags |= unix.O_APPEND
			} else {
				flags |= unix.O_TRUNC
			}
			if r.Direction == qshparse.Stdin {
				flags = unix.O_RDONLY
			}

			src, err := unix.Open(r.Target, flags, fileMode)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Target, err)
			}
			if err := dup2(src, fd); err != nil {
				unix.Close(src)
				return fmt.Errorf("dup %s onto fd %d: %w", r.Target, fd, err)
			}
			if src != fd {
				unix.Close(src)
			}
		}
	}
	return nil
}

func dup2(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	return unix.Dup2(oldfd, newfd)
}

// connectPipe dup2s src onto the standard descriptor dst (0 or 1) and
// closes src, unless they already refer to the same fd. It is applied
// after user redirections, giving the launcher's own pipe wiring priority
// over a same-numbered user redirection.
func connectPipe(src, dst int) error {
	if src < 0 {
		return nil
	}
	if err := dup2(src, dst); err != nil {
		return fmt.Errorf("connect pipe onto fd %d: %w", dst, err)
	}
	if src != dst {
		unix.Close(src)
	}
	return nil
}
