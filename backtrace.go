package main

import (
	"fmt"

	"github.com/chainhelen/deet/stack"
)

func (s *session) backtrace() {
	if !s.alive() {
		s.printNoProcessErr()
		return
	}
	it := stack.NewIterator(s.proc, s.bi, s.entry)
	for it.Next() {
		fmt.Fprintln(s.stdout, it.Frame())
	}
	if err := it.Err(); err != nil {
		s.printErr(err)
	}
}
