//go:build linux && amd64

package proc

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/chainhelen/deet/bp"
	"github.com/chainhelen/deet/log"
)

type resumeKind int

const (
	resumeNone resumeKind = iota
	resumeCont
	resumeStep
)

type options struct {
	logger *zap.Logger
	env    []string
	dir    string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEnv appends KEY=value pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(o *options) { o.env = append(o.env, env...) }
}

func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithStdio replaces the inherited standard streams. A nil stream keeps
// the debugger's own.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *options) {
		if stdin != nil {
			o.stdin = stdin
		}
		if stdout != nil {
			o.stdout = stdout
		}
		if stderr != nil {
			o.stderr = stderr
		}
	}
}

// Process is the traced child of one debug session.
type Process struct {
	pid   int
	path  string
	cmd   *exec.Cmd
	alive bool
	fatal error

	bps      *bp.Store
	rejected []uint64

	// the last resume request and, if the stop that followed it was a
	// trap on an armed breakpoint, that breakpoint's address
	lastResume resumeKind
	trapped    bool
	trapAddr   uint64
	// signal seen while stepping over a breakpoint that the caller's own
	// signal took precedence over
	pendingSig unix.Signal

	ptraceChan     chan func()
	ptraceDoneChan chan struct{}

	logger *zap.Logger
}

func newProcess(o options) *Process {
	p := &Process{
		logger:         o.logger,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan struct{}),
	}
	p.bps = bp.NewStore(p)
	go p.handlePtraceFuncs()
	return p
}

// handlePtraceFuncs runs every ptrace request on one locked OS thread: the
// thread that started the child is its tracer and the kernel rejects
// requests from any other.
func (p *Process) handlePtraceFuncs() {
	runtime.LockOSThread()

	for fn := range p.ptraceChan {
		fn()
		p.ptraceDoneChan <- struct{}{}
	}
}

func (p *Process) execPtraceFunc(fn func()) {
	p.ptraceChan <- fn
	<-p.ptraceDoneChan
}

func (p *Process) postExit() {
	if !p.alive && p.ptraceChan == nil {
		return
	}
	p.alive = false
	p.trapped = false
	p.pendingSig = 0
	if p.ptraceChan != nil {
		close(p.ptraceChan)
		p.ptraceChan = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Release()
	}
}

// check guards every request that needs a live, trustworthy tracee.
func (p *Process) check() error {
	if p.fatal != nil {
		return p.fatal
	}
	if !p.alive {
		return ErrProcessExited
	}
	return nil
}

// Launch starts path with args under ptrace. The child asks to be traced
// before it execs path, so Launch returns with the tracee stopped on the
// first instruction of the new image.
func Launch(path string, args []string, opts ...Option) (*Process, error) {
	o := options{
		logger: log.Named("proc"),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// copy from dlv: check that the argument to Launch is an executable file
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() || fi.Mode()&0111 == 0 {
		return nil, errors.Errorf("%s is not an executable file", path)
	}

	p := newProcess(o)
	p.path = path
	p.execPtraceFunc(func() {
		cmd := exec.Command(path, args...)
		cmd.Stdin = o.stdin
		cmd.Stdout = o.stdout
		cmd.Stderr = o.stderr
		cmd.Dir = o.dir
		cmd.Env = append(os.Environ(), o.env...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true, Foreground: false}
		err = cmd.Start()
		p.cmd = cmd
	})
	if err != nil {
		p.postExit()
		p.logger.Error("Launch:cmd.Start()", zap.String("path", path), zap.Error(err))
		return nil, errors.Wrapf(err, "start %s", path)
	}
	p.pid = p.cmd.Process.Pid
	p.alive = true
	p.logger.Debug("Launch", zap.String("path", path), zap.Strings("args", args), zap.Int("pid", p.pid))

	ev, err := p.Wait()
	if err != nil {
		p.Kill()
		return nil, errors.Wrap(err, "waiting for target execve failed")
	}
	if ev.Kind != Stopped {
		return nil, errors.Errorf("%s did not stop after exec: %s", path, ev)
	}
	var oerr error
	p.execPtraceFunc(func() { oerr = unix.PtraceSetOptions(p.pid, unix.PTRACE_O_EXITKILL) })
	if oerr != nil {
		p.logger.Warn("Launch:PtraceSetOptions", zap.Int("pid", p.pid), zap.Error(oerr))
	}
	return p, nil
}

// Spawn launches path and installs the breakpoints. Addresses that cannot
// be patched are logged, listed by Rejected, and do not fail the spawn.
func Spawn(path string, args []string, breakpoints []uint64, opts ...Option) (*Process, error) {
	p, err := Launch(path, args, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.SetBreakpoints(breakpoints); err != nil {
		p.logger.Warn("Spawn: rejected breakpoints", zap.Int("count", len(multierr.Errors(err))), zap.Error(err))
	}
	return p, nil
}

// SetBreakpoints installs each distinct address once. The returned error
// combines one error per rejected address; multierr.Errors splits it.
// Addresses that already hold a breakpoint are left as they are.
func (p *Process) SetBreakpoints(addrs []uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	var errs error
	seen := make(map[uint64]bool, len(addrs))
	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		if _, err := p.bps.Install(addr); err != nil {
			if errors.Is(err, bp.ErrBreakpointExists) {
				continue
			}
			p.logger.Warn("Invalid breakpoint address", zap.Uint64("addr", addr), zap.Error(err))
			p.rejected = append(p.rejected, addr)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// SetBreakpoint installs one breakpoint after spawn.
func (p *Process) SetBreakpoint(addr uint64) (bp.Breakpoint, error) {
	if err := p.check(); err != nil {
		return bp.Breakpoint{}, err
	}
	return p.bps.Install(addr)
}

// ClearBreakpoint removes the breakpoint at addr. If the tracee is stopped
// on that very breakpoint its program counter is moved back onto addr so
// the restored instruction runs when it resumes.
func (p *Process) ClearBreakpoint(addr uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := p.bps.Remove(addr); err != nil {
		return err
	}
	if p.trapped && p.trapAddr == addr {
		p.trapped = false
		return p.SetPC(addr)
	}
	return nil
}

// Breakpoints lists the breakpoint table ordered by address.
func (p *Process) Breakpoints() []bp.Breakpoint {
	return p.bps.List()
}

// Rejected lists addresses SetBreakpoints could not patch.
func (p *Process) Rejected() []uint64 {
	return p.rejected
}

// Wait blocks until the tracee changes state.
func (p *Process) Wait() (StopEvent, error) {
	ev, _, err := p.wait(0)
	return ev, err
}

// Poll is Wait without blocking. ok is false if nothing happened yet.
func (p *Process) Poll() (ev StopEvent, ok bool, err error) {
	return p.wait(unix.WNOHANG)
}

func (p *Process) wait(options int) (StopEvent, bool, error) {
	if err := p.check(); err != nil {
		return StopEvent{}, false, err
	}
	var s unix.WaitStatus
	wpid, err := unix.Wait4(p.pid, &s, unix.WALL|options, nil)
	for err == unix.EINTR {
		wpid, err = unix.Wait4(p.pid, &s, unix.WALL|options, nil)
	}
	if err != nil {
		p.logger.Error("wait4", zap.Int("pid", p.pid), zap.Error(err))
		return StopEvent{}, false, &TraceError{Op: "wait4", Pid: p.pid, Err: err}
	}
	if wpid == 0 {
		return StopEvent{}, false, nil
	}

	resumed := p.lastResume
	p.lastResume = resumeNone
	p.trapped = false

	var ev StopEvent
	switch {
	case s.Exited():
		ev = StopEvent{Kind: Exited, ExitCode: s.ExitStatus()}
		p.postExit()
	case s.Signaled():
		ev = StopEvent{Kind: Signaled, Signal: s.Signal()}
		p.postExit()
	case s.Stopped():
		pc, err := p.PC()
		if err != nil {
			return StopEvent{}, false, err
		}
		ev = StopEvent{Kind: Stopped, Signal: s.StopSignal(), PC: pc}
		if resumed == resumeCont && ev.Signal == unix.SIGTRAP && pc > 0 && p.bps.IsArmed(pc-1) {
			p.trapped = true
			p.trapAddr = pc - 1
		}
	default:
		p.fatal = &UnexpectedStatusError{Pid: p.pid, Status: s}
		p.logger.Error("wait4: unexpected status", zap.Int("pid", p.pid), zap.Uint32("status", uint32(s)))
		return StopEvent{}, false, p.fatal
	}
	p.logger.Debug("wait", zap.Int("pid", p.pid), zap.Stringer("event", ev))
	return ev, true, nil
}

// Kill sends SIGKILL to the tracee's process group and reaps it.
func (p *Process) Kill() error {
	if !p.alive {
		return ErrProcessExited
	}
	if err := unix.Kill(-p.pid, unix.SIGKILL); err != nil {
		p.logger.Error("kill", zap.Int("pid", p.pid), zap.Error(err))
		return &TraceError{Op: "kill", Pid: p.pid, Err: err}
	}
	for {
		var s unix.WaitStatus
		_, err := unix.Wait4(p.pid, &s, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			p.postExit()
			return nil
		}
		if err != nil {
			return &TraceError{Op: "wait4", Pid: p.pid, Err: err}
		}
		if s.Exited() || s.Signaled() {
			p.logger.Debug("Kill: reaped", zap.Int("pid", p.pid))
			p.postExit()
			return nil
		}
	}
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Path() string {
	return p.path
}

func (p *Process) Alive() bool {
	return p.alive
}

// State is the kernel's status for the tracee, e.g. "stop" while it is in
// a ptrace stop.
func (p *Process) State() (string, error) {
	if !p.alive {
		return "", ErrProcessExited
	}
	ps, err := process.NewProcess(int32(p.pid))
	if err != nil {
		return "", err
	}
	status, err := ps.Status()
	if err != nil {
		return "", err
	}
	return strings.Join(status, ","), nil
}
