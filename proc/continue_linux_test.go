//go:build linux && amd64

package proc

import (
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/chainhelen/deet/bp"
	"github.com/chainhelen/deet/internal/memtest"
	"github.com/chainhelen/deet/mem"
)

const trapAt = 0x401005

type stubStepper struct {
	store *bp.Store
	m     *memtest.Fake

	setPCErr, stepErr, waitErr error
	ev                         StopEvent

	pc uint64
	// byte under addr while the instruction ran
	ran byte
}

func (s *stubStepper) SetPC(pc uint64) error {
	if s.setPCErr != nil {
		return s.setPCErr
	}
	s.pc = pc
	return nil
}

func (s *stubStepper) singleStep() error {
	if s.stepErr != nil {
		return s.stepErr
	}
	s.ran, _ = mem.ReadByte(s.m, trapAt)
	return nil
}

func (s *stubStepper) Wait() (StopEvent, error) {
	return s.ev, s.waitErr
}

func newStubStepper(t *testing.T) *stubStepper {
	m := memtest.NewFake(0x401000, 16)
	m.Words[0x401000] = 0x4855e58948ec8348
	s := &stubStepper{store: bp.NewStore(m), m: m, ev: StopEvent{Kind: Stopped, Signal: unix.SIGTRAP}}
	if _, err := s.store.Install(trapAt); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStepOverRearms(t *testing.T) {
	g := NewGomegaWithT(t)
	s := newStubStepper(t)

	ev, err := stepOver(s, s.store, trapAt)
	g.Expect(err).Should(BeNil())
	g.Expect(ev.Kind).Should(Equal(Stopped))
	g.Expect(s.pc).Should(Equal(uint64(trapAt)))
	g.Expect(s.ran).Should(Equal(byte(0xe5)))
	g.Expect(s.store.IsArmed(trapAt)).Should(BeTrue())
	b, _ := mem.ReadByte(s.m, trapAt)
	g.Expect(b).Should(Equal(bp.TrapInstruction))
}

func TestStepOverRearmsOnFailure(t *testing.T) {
	failure := &TraceError{Op: "PtraceSetRegs", Pid: 1, Err: unix.ESRCH}
	for name, inject := range map[string]func(*stubStepper){
		"set pc":      func(s *stubStepper) { s.setPCErr = failure },
		"single step": func(s *stubStepper) { s.stepErr = failure },
		"wait":        func(s *stubStepper) { s.waitErr = failure },
	} {
		t.Run(name, func(t *testing.T) {
			g := NewGomegaWithT(t)
			s := newStubStepper(t)
			inject(s)

			ev, err := stepOver(s, s.store, trapAt)
			g.Expect(errors.Is(err, failure)).Should(BeTrue())
			g.Expect(ev).Should(Equal(StopEvent{}))
			g.Expect(s.store.IsArmed(trapAt)).Should(BeTrue())
			b, _ := mem.ReadByte(s.m, trapAt)
			g.Expect(b).Should(Equal(bp.TrapInstruction))
			orig, ok := s.store.Lookup(trapAt)
			g.Expect(ok).Should(BeTrue())
			g.Expect(orig).Should(Equal(byte(0xe5)))
		})
	}
}

func TestStepOverTerminated(t *testing.T) {
	g := NewGomegaWithT(t)
	s := newStubStepper(t)
	s.ev = StopEvent{Kind: Exited}
	pokes := s.m.Pokes

	ev, err := stepOver(s, s.store, trapAt)
	g.Expect(err).Should(BeNil())
	g.Expect(ev.Terminated()).Should(BeTrue())
	// only the disarm wrote memory
	g.Expect(s.m.Pokes).Should(Equal(pokes + 1))
	g.Expect(s.store.IsArmed(trapAt)).Should(BeFalse())
}

func TestResumeSignal(t *testing.T) {
	g := NewGomegaWithT(t)
	p := &Process{logger: zap.NewNop()}
	trap := StopEvent{Kind: Stopped, Signal: unix.SIGTRAP}
	urg := StopEvent{Kind: Stopped, Signal: unix.SIGURG}

	g.Expect(p.resumeSignal(0, StopEvent{})).Should(Equal(unix.Signal(0)))
	g.Expect(p.resumeSignal(unix.SIGINT, trap)).Should(Equal(unix.SIGINT))
	g.Expect(p.resumeSignal(0, urg)).Should(Equal(unix.SIGURG))
	g.Expect(p.pendingSig).Should(BeZero())

	// the caller's signal goes first, the stepped one waits
	g.Expect(p.resumeSignal(unix.SIGINT, urg)).Should(Equal(unix.SIGINT))
	g.Expect(p.pendingSig).Should(Equal(unix.SIGURG))
	g.Expect(p.resumeSignal(unix.SIGUSR1, trap)).Should(Equal(unix.SIGUSR1))
	g.Expect(p.pendingSig).Should(Equal(unix.SIGURG))
	g.Expect(p.resumeSignal(0, trap)).Should(Equal(unix.SIGURG))
	g.Expect(p.pendingSig).Should(BeZero())

	// the same signal twice is delivered once
	g.Expect(p.resumeSignal(unix.SIGURG, urg)).Should(Equal(unix.SIGURG))
	g.Expect(p.pendingSig).Should(BeZero())
}
