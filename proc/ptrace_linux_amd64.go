//go:build linux && amd64

package proc

import (
	"encoding/binary"

	"go.uber.org/zap"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sys/unix"

	"github.com/chainhelen/deet/mem"
)

// maxInstLen is the longest x86-64 instruction encoding.
const maxInstLen = 15

// accessError separates unmapped addresses from other ptrace refusals.
func (p *Process) accessError(op string, addr uint64, err error) error {
	p.logger.Error(op, zap.Int("pid", p.pid), zap.Uint64("addr", addr), zap.Error(err))
	if err == unix.EIO || err == unix.EFAULT {
		return &mem.InvalidAddressError{Addr: addr, Err: err}
	}
	return &TraceError{Op: op, Pid: p.pid, Addr: addr, Err: err}
}

// PeekWord reads the aligned word at addr with PTRACE_PEEKDATA.
func (p *Process) PeekWord(addr uint64) (uint64, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	var (
		buf [mem.WordSize]byte
		err error
	)
	p.execPtraceFunc(func() { _, err = unix.PtracePeekData(p.pid, uintptr(addr), buf[:]) })
	if err != nil {
		return 0, p.accessError("PtracePeekData", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// PokeWord writes the aligned word at addr with PTRACE_POKEDATA.
func (p *Process) PokeWord(addr uint64, word uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	var (
		buf [mem.WordSize]byte
		err error
	)
	binary.LittleEndian.PutUint64(buf[:], word)
	p.execPtraceFunc(func() { _, err = unix.PtracePokeData(p.pid, uintptr(addr), buf[:]) })
	if err != nil {
		return p.accessError("PtracePokeData", addr, err)
	}
	return nil
}

// PatchByte patches one byte of tracee memory and returns the byte it
// replaced. Breakpoints set this way are not known to the resume logic;
// use SetBreakpoint for those.
func (p *Process) PatchByte(addr uint64, val byte) (byte, error) {
	return mem.WriteByte(p, addr, val)
}

// ReadMemory reads up to n bytes at addr with breakpoint traps replaced by
// the original bytes.
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	buf, err := mem.ReadBytes(p, addr, n)
	if err != nil {
		return nil, err
	}
	p.bps.Mask(addr, buf)
	return buf, nil
}

// Location is the address of the next instruction the tracee executes. On
// a breakpoint stop that is the breakpoint itself, one byte before the
// program counter.
func (p *Process) Location() (uint64, error) {
	pc, err := p.PC()
	if err != nil {
		return 0, err
	}
	if p.trapped && p.trapAddr == pc-1 {
		return p.trapAddr, nil
	}
	return pc, nil
}

// CurrentInstruction decodes the instruction at Location.
func (p *Process) CurrentInstruction() (x86asm.Inst, error) {
	pc, err := p.Location()
	if err != nil {
		return x86asm.Inst{}, err
	}
	buf, err := p.ReadMemory(pc, maxInstLen)
	if err != nil {
		return x86asm.Inst{}, err
	}
	return x86asm.Decode(buf, 64)
}

func (p *Process) Registers() (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := p.check(); err != nil {
		return regs, err
	}
	var err error
	p.execPtraceFunc(func() { err = unix.PtraceGetRegs(p.pid, &regs) })
	if err != nil {
		p.logger.Error("PtraceGetRegs", zap.Int("pid", p.pid), zap.Error(err))
		return regs, &TraceError{Op: "PtraceGetRegs", Pid: p.pid, Err: err}
	}
	return regs, nil
}

func (p *Process) PC() (uint64, error) {
	regs, err := p.Registers()
	if err != nil {
		return 0, err
	}
	return regs.PC(), nil
}

// FramePointer returns RBP.
func (p *Process) FramePointer() (uint64, error) {
	regs, err := p.Registers()
	if err != nil {
		return 0, err
	}
	return regs.Rbp, nil
}

func (p *Process) SetPC(pc uint64) error {
	regs, err := p.Registers()
	if err != nil {
		return err
	}
	regs.SetPC(pc)
	p.trapped = false
	p.execPtraceFunc(func() { err = unix.PtraceSetRegs(p.pid, &regs) })
	if err != nil {
		p.logger.Error("PtraceSetRegs", zap.Int("pid", p.pid), zap.Uint64("pc", pc), zap.Error(err))
		return &TraceError{Op: "PtraceSetRegs", Pid: p.pid, Err: err}
	}
	return nil
}

func (p *Process) cont(sig unix.Signal) error {
	if err := p.check(); err != nil {
		return err
	}
	var err error
	p.execPtraceFunc(func() { err = unix.PtraceCont(p.pid, int(sig)) })
	if err != nil {
		p.logger.Error("PtraceCont", zap.Int("pid", p.pid), zap.Error(err))
		return &TraceError{Op: "PtraceCont", Pid: p.pid, Err: err}
	}
	p.lastResume = resumeCont
	return nil
}

func (p *Process) singleStep() error {
	if err := p.check(); err != nil {
		return err
	}
	var err error
	p.execPtraceFunc(func() { err = unix.PtraceSingleStep(p.pid) })
	if err != nil {
		p.logger.Error("PtraceSingleStep", zap.Int("pid", p.pid), zap.Error(err))
		return &TraceError{Op: "PtraceSingleStep", Pid: p.pid, Err: err}
	}
	p.lastResume = resumeStep
	return nil
}
