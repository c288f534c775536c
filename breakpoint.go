package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainhelen/deet/bininfo"
	"github.com/chainhelen/deet/bp"
)

// userBreakpoint is a breakpoint as the user asked for it. It stays in the
// list across runs.
type userBreakpoint struct {
	id   int
	addr uint64
	loc  string
}

var errBadLocation = errors.New("location must be *addr, function or file:line")

func parseLoc(loc string) (string, int, error) {
	i := strings.LastIndexByte(loc, ':')
	if i <= 0 || i == len(loc)-1 {
		return "", 0, errBadLocation
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil || line <= 0 {
		return "", 0, errBadLocation
	}
	return loc[:i], line, nil
}

// locToPc resolves *addr, a function name or file:line to an address.
func (s *session) locToPc(loc string) (uint64, error) {
	if strings.HasPrefix(loc, "*") {
		addr, err := strconv.ParseUint(strings.TrimPrefix(loc, "*"), 0, 64)
		if err != nil {
			return 0, errBadLocation
		}
		return addr, nil
	}
	if strings.Contains(loc, ":") {
		filename, line, err := parseLoc(loc)
		if err != nil {
			return 0, err
		}
		return s.bi.FileLineToPC(filename, line)
	}
	return s.bi.FunctionEntry(loc)
}

// describe names addr the way bl and the break confirmation print it.
func (s *session) describe(addr uint64) string {
	var parts []string
	if fn, ok := s.bi.ResolveFunction(addr); ok {
		parts = append(parts, fn)
	}
	if l, ok := s.bi.ResolveLine(addr); ok {
		parts = append(parts, l.String())
	}
	return strings.Join(parts, " ")
}

// addBreakpoint records a breakpoint and, with a process running, installs
// it right away.
func (s *session) addBreakpoint(loc string) {
	addr, err := s.locToPc(loc)
	if err != nil {
		switch {
		case errors.Is(err, bininfo.ErrNotFoundSourceLine):
			s.printNotFoundSourceLineErr(loc)
		case errors.Is(err, errBadLocation):
			s.printUnsupportCmd("break " + loc)
		default:
			s.printErr(err)
		}
		return
	}
	for _, b := range s.breakpoints {
		if b.addr == addr {
			s.printHasExistedBreakPoint(loc)
			return
		}
	}
	if s.alive() {
		if _, err := s.proc.SetBreakpoint(addr); err != nil {
			s.logger.Warn("addBreakpoint", zap.String("loc", loc), zap.Uint64("addr", addr), zap.Error(err))
			s.printInvalidBreakpoint(addr)
			return
		}
	}
	b := &userBreakpoint{id: s.nextID, addr: addr, loc: loc}
	s.nextID++
	s.breakpoints = append(s.breakpoints, b)
	fmt.Fprintf(s.stdout, "Set breakpoint %d at %#x %s\n", b.id, addr, s.describe(addr))
}

func (s *session) listBreakpoints() {
	if len(s.breakpoints) == 0 {
		fmt.Fprintf(s.stdout, "there is no breakpoint\n")
		return
	}
	for _, b := range s.breakpoints {
		fmt.Fprintf(s.stdout, "%-2d. %#x %s (%s)\n", b.id, b.addr, s.describe(b.addr), b.loc)
	}
}

// deleteBreakpoint removes a breakpoint given by id or by *addr.
func (s *session) deleteBreakpoint(arg string) {
	var match func(*userBreakpoint) bool
	if strings.HasPrefix(arg, "*") {
		addr, err := strconv.ParseUint(strings.TrimPrefix(arg, "*"), 0, 64)
		if err != nil {
			s.printUnsupportCmd("delete " + arg)
			return
		}
		match = func(b *userBreakpoint) bool { return b.addr == addr }
	} else {
		id, err := strconv.Atoi(arg)
		if err != nil {
			s.printUnsupportCmd("delete " + arg)
			return
		}
		match = func(b *userBreakpoint) bool { return b.id == id }
	}

	for i, b := range s.breakpoints {
		if !match(b) {
			continue
		}
		if s.alive() {
			// a breakpoint rejected at spawn is not in the process table
			if err := s.proc.ClearBreakpoint(b.addr); err != nil && !errors.Is(err, bp.ErrNoBreakpoint) {
				s.printErr(err)
				return
			}
		}
		s.breakpoints = append(s.breakpoints[:i], s.breakpoints[i+1:]...)
		fmt.Fprintf(s.stdout, "Deleted breakpoint %d at %#x\n", b.id, b.addr)
		return
	}
	fmt.Fprintf(s.stderr, "no breakpoint %s\n", arg)
}
