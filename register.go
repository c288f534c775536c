package main

import (
	"fmt"
	"text/tabwriter"
)

func (s *session) printRegisters() error {
	if !s.alive() {
		s.printNoProcessErr()
		return nil
	}
	regs, err := s.proc.Registers()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(s.stdout, 0, 8, 1, ' ', 0)
	for _, r := range []struct {
		name string
		val  uint64
	}{
		{"rip", regs.Rip},
		{"rsp", regs.Rsp},
		{"rbp", regs.Rbp},
		{"rax", regs.Rax},
		{"rbx", regs.Rbx},
		{"rcx", regs.Rcx},
		{"rdx", regs.Rdx},
		{"rsi", regs.Rsi},
		{"rdi", regs.Rdi},
		{"r8", regs.R8},
		{"r9", regs.R9},
		{"r10", regs.R10},
		{"r11", regs.R11},
		{"r12", regs.R12},
		{"r13", regs.R13},
		{"r14", regs.R14},
		{"r15", regs.R15},
		{"eflags", regs.Eflags},
	} {
		fmt.Fprintf(w, "%s\t%#016x\n", r.name, r.val)
	}
	return w.Flush()
}
