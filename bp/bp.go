package bp

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/chainhelen/deet/mem"
)

// TrapInstruction is INT 3, the one byte software breakpoint on amd64.
const TrapInstruction byte = 0xCC

var ErrBreakpointExists = errors.New("this breakpoint has existed")
var ErrNoBreakpoint = errors.New("there is no breakpoint at this address")

// Breakpoint is one patched address. Original is the byte the trap
// replaced, captured once at install time.
type Breakpoint struct {
	Addr     uint64
	Original byte
	Armed    bool
}

func (b Breakpoint) String() string {
	state := "armed"
	if !b.Armed {
		state = "disarmed"
	}
	return fmt.Sprintf("%#x (%s, original %#02x)", b.Addr, state, b.Original)
}

// Store owns the address to saved byte table of one debug session.
// It is not safe for concurrent use.
type Store struct {
	mem   mem.WordAccessor
	infos map[uint64]*Breakpoint
}

func NewStore(m mem.WordAccessor) *Store {
	return &Store{mem: m, infos: make(map[uint64]*Breakpoint)}
}

// Install writes the trap byte at addr and records the byte it replaced.
// A failed patch leaves addr out of the table. Installing an address twice
// returns ErrBreakpointExists so the saved byte is never the trap itself.
func (s *Store) Install(addr uint64) (Breakpoint, error) {
	if _, ok := s.infos[addr]; ok {
		return Breakpoint{}, ErrBreakpointExists
	}
	orig, err := mem.WriteByte(s.mem, addr, TrapInstruction)
	if err != nil {
		var iae *mem.InvalidAddressError
		if !errors.As(err, &iae) {
			err = &mem.InvalidAddressError{Addr: addr, Err: err}
		}
		return Breakpoint{}, err
	}
	info := &Breakpoint{Addr: addr, Original: orig, Armed: true}
	s.infos[addr] = info
	return *info, nil
}

// Disarm restores the original byte but keeps the record.
func (s *Store) Disarm(addr uint64) error {
	info, ok := s.infos[addr]
	if !ok {
		return ErrNoBreakpoint
	}
	if !info.Armed {
		return nil
	}
	if _, err := mem.WriteByte(s.mem, addr, info.Original); err != nil {
		return err
	}
	info.Armed = false
	return nil
}

// Rearm writes the trap byte again. The saved original is left alone.
func (s *Store) Rearm(addr uint64) error {
	info, ok := s.infos[addr]
	if !ok {
		return ErrNoBreakpoint
	}
	if info.Armed {
		return nil
	}
	if _, err := mem.WriteByte(s.mem, addr, TrapInstruction); err != nil {
		return err
	}
	info.Armed = true
	return nil
}

// Remove disarms addr and forgets it.
func (s *Store) Remove(addr uint64) error {
	if err := s.Disarm(addr); err != nil {
		return err
	}
	delete(s.infos, addr)
	return nil
}

// Lookup returns the saved original byte for addr.
func (s *Store) Lookup(addr uint64) (byte, bool) {
	info, ok := s.infos[addr]
	if !ok {
		return 0, false
	}
	return info.Original, true
}

func (s *Store) IsArmed(addr uint64) bool {
	info, ok := s.infos[addr]
	return ok && info.Armed
}

func (s *Store) Len() int {
	return len(s.infos)
}

// List returns a snapshot of the table ordered by address.
func (s *Store) List() []Breakpoint {
	out := make([]Breakpoint, 0, len(s.infos))
	for _, info := range s.infos {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Mask rewrites, in buf, every armed trap that falls inside
// [addr, addr+len(buf)) with the original byte, so buf shows the code the
// program actually runs.
func (s *Store) Mask(addr uint64, buf []byte) {
	end := addr + uint64(len(buf))
	for pc, info := range s.infos {
		if info.Armed && pc >= addr && pc < end {
			buf[pc-addr] = info.Original
		}
	}
}
