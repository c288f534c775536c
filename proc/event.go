//go:build linux && amd64

package proc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type StopKind int

const (
	// Stopped: the tracee is in a ptrace stop. Signal and PC are set.
	Stopped StopKind = iota + 1
	// Exited: the tracee called exit. ExitCode is set.
	Exited
	// Signaled: a signal killed the tracee. Signal is set.
	Signaled
)

func (k StopKind) String() string {
	switch k {
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	}
	return "unknown"
}

// StopEvent is the outcome of one wait.
type StopEvent struct {
	Kind     StopKind
	Signal   unix.Signal
	PC       uint64
	ExitCode int
}

// Terminated reports whether the tracee is gone.
func (e StopEvent) Terminated() bool {
	return e.Kind == Exited || e.Kind == Signaled
}

func (e StopEvent) String() string {
	switch e.Kind {
	case Stopped:
		return fmt.Sprintf("stopped (signal %s) at %#x", unix.SignalName(e.Signal), e.PC)
	case Exited:
		return fmt.Sprintf("exited (status %d)", e.ExitCode)
	case Signaled:
		return fmt.Sprintf("killed by signal %s", unix.SignalName(e.Signal))
	}
	return "unknown event"
}
