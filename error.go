package main

import (
	"fmt"

	"github.com/chainhelen/deet/proc"
)

func (s *session) printUnsupportCmd(cmd string) {
	fmt.Fprintf(s.stderr, "unsupport cmd `%s`\n", cmd)
}

func (s *session) printHasExistedBreakPoint(place string) {
	fmt.Fprintf(s.stderr, "existed breakpoint %s\n", place)
}

func (s *session) printNotFoundSourceLineErr(place string) {
	fmt.Fprintf(s.stderr, "can't find this source line %s\n", place)
}

func (s *session) printInvalidBreakpoint(addr uint64) {
	fmt.Fprintf(s.stderr, "Invalid breakpoint address %#x\n", addr)
}

func (s *session) printErr(err error) {
	fmt.Fprintf(s.stderr, "%s\n", err.Error())
}

func (s *session) printNoProcessErr() {
	fmt.Fprintf(s.stderr, "%s\n", proc.ErrProcessExited.Error())
}
