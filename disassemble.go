package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen is the longest x86-64 instruction encoding.
const maxInstLen = 15

type asmLine struct {
	pc   uint64
	mem  []byte
	inst x86asm.Inst
}

// disassemble decodes up to count instructions starting at pc. Memory is
// read with breakpoint traps masked, so the listing shows the program's
// own code.
func (s *session) disassemble(pc uint64, count int) ([]asmLine, error) {
	mem, err := s.proc.ReadMemory(pc, count*maxInstLen)
	if err != nil {
		return nil, err
	}
	out := make([]asmLine, 0, count)
	curPc := pc
	for len(mem) > 0 && len(out) < count {
		inst, err := x86asm.Decode(mem, 64)
		if err != nil {
			s.logger.Debug("disassemble", zap.Error(err), zap.Uint64("pc", curPc))
			if len(out) == 0 {
				return nil, err
			}
			break
		}
		out = append(out, asmLine{pc: curPc, mem: mem[:inst.Len], inst: inst})
		mem = mem[inst.Len:]
		curPc += uint64(inst.Len)
	}
	return out, nil
}

func tryCuttingFilename(filename string) string {
	dir, err := os.Getwd()
	if err != nil {
		return filename
	}
	dir += "/"
	if strings.HasPrefix(filename, dir) {
		return filename[len(dir):]
	}
	return filename
}

func (s *session) listDisassemble(count int) error {
	if !s.alive() {
		s.printNoProcessErr()
		return nil
	}
	pc, err := s.proc.Location()
	if err != nil {
		return err
	}
	lines, err := s.disassemble(pc, count)
	if err != nil {
		return err
	}
	bps := make(map[uint64]bool)
	for _, b := range s.proc.Breakpoints() {
		bps[b.Addr] = true
	}

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		flag := " "
		if bps[l.pc] {
			flag = "."
		}
		if l.pc == pc {
			flag += "==> "
		} else {
			flag += "    "
		}
		where := "?"
		if src, ok := s.bi.ResolveLine(l.pc); ok {
			where = fmt.Sprintf("%s:%d", tryCuttingFilename(src.File), src.Line)
		}
		out = append(out, fmt.Sprintf("%s%-12s %#x %-20x %s\n", flag, where, l.pc, l.mem, l.inst.String()))
	}
	fmt.Fprint(s.stdout, strings.Join(out, ""))
	return nil
}
