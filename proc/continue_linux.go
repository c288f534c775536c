//go:build linux && amd64

package proc

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/chainhelen/deet/bp"
)

// Continue resumes the tracee until its next stop and returns that stop.
// sig, if not zero, is delivered as the tracee resumes.
//
// After a stop on a breakpoint the program counter sits one byte past the
// trap. Continue then restores the original byte, rewinds onto it, single
// steps the original instruction, re-arms the trap and only then lets the
// tracee run; the breakpoint fires again on the next pass. A signal that
// arrives during that step is delivered in place of a zero sig. When sig is
// set the caller's signal goes first and the other one is held for the next
// Continue called with a zero sig.
func (p *Process) Continue(sig unix.Signal) (StopEvent, error) {
	if err := p.check(); err != nil {
		return StopEvent{}, err
	}
	ev, stepped, err := p.stepOverBreakpoint()
	if err != nil {
		return StopEvent{}, err
	}
	if stepped && ev.Terminated() {
		return ev, nil
	}
	if err := p.cont(p.resumeSignal(sig, ev)); err != nil {
		return StopEvent{}, err
	}
	return p.Wait()
}

// resumeSignal picks the signal for PTRACE_CONT from the caller's sig, the
// held one and the stop of a breakpoint step, if any.
func (p *Process) resumeSignal(sig unix.Signal, stepped StopEvent) unix.Signal {
	if sig == 0 && p.pendingSig != 0 {
		sig, p.pendingSig = p.pendingSig, 0
	}
	if stepped.Kind != Stopped || stepped.Signal == unix.SIGTRAP || stepped.Signal == sig {
		return sig
	}
	if sig == 0 {
		return stepped.Signal
	}
	if p.pendingSig != 0 {
		p.logger.Warn("resumeSignal: dropped", zap.Int("pid", p.pid), zap.Stringer("signal", stepped.Signal))
		return sig
	}
	p.pendingSig = stepped.Signal
	return sig
}

// StepInstruction executes exactly one instruction, which is the original
// instruction under the breakpoint if the tracee is stopped on one.
func (p *Process) StepInstruction() (StopEvent, error) {
	if err := p.check(); err != nil {
		return StopEvent{}, err
	}
	ev, stepped, err := p.stepOverBreakpoint()
	if err != nil || stepped {
		return ev, err
	}
	if err := p.singleStep(); err != nil {
		return StopEvent{}, err
	}
	return p.Wait()
}

// stepOverBreakpoint single-steps the instruction under the breakpoint the
// tracee last trapped on. stepped is false, with nothing done, when the
// tracee is not stopped on an armed breakpoint.
func (p *Process) stepOverBreakpoint() (ev StopEvent, stepped bool, err error) {
	pc, err := p.PC()
	if err != nil {
		return StopEvent{}, false, err
	}
	if pc == 0 || !p.trapped || p.trapAddr != pc-1 || !p.bps.IsArmed(pc-1) {
		return StopEvent{}, false, nil
	}
	addr := pc - 1
	p.logger.Debug("stepOverBreakpoint", zap.Int("pid", p.pid), zap.Uint64("addr", addr))

	if ev, err = stepOver(p, p.bps, addr); err != nil {
		return StopEvent{}, false, err
	}
	return ev, true, nil
}

// stepper is what stepOver drives on a stopped tracee.
type stepper interface {
	SetPC(pc uint64) error
	singleStep() error
	Wait() (StopEvent, error)
}

// stepOver runs the original instruction at the armed breakpoint addr. The
// trap is written back before returning, on failure too, unless the step
// ended the tracee.
func stepOver(t stepper, bps *bp.Store, addr uint64) (ev StopEvent, err error) {
	if err := bps.Disarm(addr); err != nil {
		return StopEvent{}, err
	}
	defer func() {
		if ev.Terminated() {
			return
		}
		if rerr := bps.Rearm(addr); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		if err != nil {
			ev = StopEvent{}
		}
	}()

	if err := t.SetPC(addr); err != nil {
		return StopEvent{}, err
	}
	if err := t.singleStep(); err != nil {
		return StopEvent{}, err
	}
	return t.Wait()
}
