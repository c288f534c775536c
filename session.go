package main

import (
	"fmt"
	"io"

	"github.com/cosiner/argv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/chainhelen/deet/bininfo"
	"github.com/chainhelen/deet/config"
	"github.com/chainhelen/deet/log"
	"github.com/chainhelen/deet/proc"
)

// session is one interactive debugging session over a single binary. The
// traced process comes and goes with run, the breakpoint list survives it.
type session struct {
	cfg   *config.Config
	bi    *bininfo.BinaryInfo
	path  string
	args  []string
	entry string

	proc *proc.Process
	// signal of the last non-trap stop, handed back on the next continue
	pendingSig unix.Signal

	breakpoints []*userBreakpoint
	nextID      int

	procOpts []proc.Option

	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	quit  bool
	fatal error
}

func newSession(cfg *config.Config, bi *bininfo.BinaryInfo, args []string, stdout, stderr io.Writer) *session {
	entry := cfg.EntryFunction
	if entry == "" {
		entry = bi.EntryFunction()
	}
	return &session{
		cfg:    cfg,
		bi:     bi,
		path:   bi.Path,
		args:   args,
		entry:  entry,
		stdout: stdout,
		stderr: stderr,
		logger: log.Named("session"),
	}
}

func (s *session) alive() bool {
	return s.proc != nil && s.proc.Alive()
}

// run starts the binary again, killing the current process first.
func (s *session) run(cmdline string) {
	if cmdline != "" {
		v, err := argv.Argv(cmdline,
			func(str string) (string, error) {
				return "", errors.Errorf("Backtick not supported in '%s'", str)
			},
			nil)
		if err != nil {
			s.printErr(err)
			return
		}
		if len(v) != 1 {
			s.printErr(errors.Errorf("illegal commandline '%s'", cmdline))
			return
		}
		s.args = v[0]
	}
	if s.alive() {
		fmt.Fprintf(s.stdout, "Killing running inferior (pid %d)\n", s.proc.Pid())
		if err := s.proc.Kill(); err != nil {
			s.printErr(err)
			return
		}
	}
	s.pendingSig = 0

	addrs := make([]uint64, 0, len(s.breakpoints))
	for _, b := range s.breakpoints {
		addrs = append(addrs, b.addr)
	}
	p, err := proc.Spawn(s.path, s.args, addrs, s.procOpts...)
	if err != nil {
		s.logger.Error("run", zap.String("path", s.path), zap.Error(err))
		s.printErr(err)
		return
	}
	s.proc = p
	for _, addr := range p.Rejected() {
		s.printInvalidBreakpoint(addr)
	}
	s.cont()
}

func (s *session) cont() {
	if !s.alive() {
		s.printNoProcessErr()
		return
	}
	sig := s.pendingSig
	s.pendingSig = 0
	ev, err := s.proc.Continue(sig)
	s.report(ev, err)
}

func (s *session) stepi() {
	if !s.alive() {
		s.printNoProcessErr()
		return
	}
	ev, err := s.proc.StepInstruction()
	s.report(ev, err)
}

// report prints what the last resume led to.
func (s *session) report(ev proc.StopEvent, err error) {
	if err != nil {
		s.printErr(err)
		if proc.IsFatal(err) {
			s.logger.Error("fatal", zap.Error(err))
			s.fatal = err
			s.quit = true
			s.kill()
		}
		return
	}
	switch ev.Kind {
	case proc.Exited:
		fmt.Fprintf(s.stdout, "Child exited (status %d)\n", ev.ExitCode)
	case proc.Signaled:
		fmt.Fprintf(s.stdout, "Child killed by signal %s\n", unix.SignalName(ev.Signal))
	case proc.Stopped:
		fmt.Fprintf(s.stdout, "Child stopped (signal %s)\n", unix.SignalName(ev.Signal))
		if ev.Signal != unix.SIGTRAP {
			s.pendingSig = ev.Signal
		}
		loc, err := s.proc.Location()
		if err != nil {
			s.printErr(err)
			return
		}
		if l, ok := s.bi.ResolveLine(loc); ok {
			fmt.Fprintf(s.stdout, "Stopped at %s\n", l)
			if err := s.listFileLine(l.File, l.Line, s.cfg.SourceListLines); err != nil {
				s.logger.Debug("report: no source", zap.String("file", l.File), zap.Error(err))
			}
		}
	}
}

// kill ends the traced process, if any.
func (s *session) kill() {
	if !s.alive() {
		return
	}
	if err := s.proc.Kill(); err != nil {
		s.logger.Error("kill", zap.Int("pid", s.proc.Pid()), zap.Error(err))
	}
}
