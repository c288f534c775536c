//go:build linux && amd64

package proc

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ErrProcessExited = errors.New("there is no process running")

// TraceError is a ptrace, wait4 or kill request the kernel refused.
type TraceError struct {
	Op   string
	Pid  int
	Addr uint64
	Err  error
}

func (e *TraceError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s pid %d addr %#x: %v", e.Op, e.Pid, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s pid %d: %v", e.Op, e.Pid, e.Err)
}

func (e *TraceError) Unwrap() error { return e.Err }

// UnexpectedStatusError is a wait status that is neither exited, signaled
// nor stopped. The Process refuses every operation but Kill afterwards.
type UnexpectedStatusError struct {
	Pid    int
	Status unix.WaitStatus
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("wait4 pid %d returned unexpected status %#x", e.Pid, uint32(e.Status))
}

// IsFatal reports whether err ends the debug session.
func IsFatal(err error) bool {
	var use *UnexpectedStatusError
	return errors.As(err, &use)
}
