// Package mem patches single bytes of a tracee's memory through an
// inspection facility that only moves whole machine words.
package mem

import (
	"fmt"
)

// WordSize is the transfer unit of PTRACE_PEEKDATA/POKEDATA on amd64.
const WordSize = 8

// WordAccessor reads and writes one aligned machine word of tracee memory.
// Implementations may assume addr is a multiple of WordSize.
type WordAccessor interface {
	PeekWord(addr uint64) (uint64, error)
	PokeWord(addr uint64, word uint64) error
}

// InvalidAddressError is returned when addr is not mapped, or not writable,
// in the tracee.
type InvalidAddressError struct {
	Addr uint64
	Err  error
}

func (e *InvalidAddressError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid address %#x", e.Addr)
	}
	return fmt.Sprintf("invalid address %#x: %v", e.Addr, e.Err)
}

func (e *InvalidAddressError) Unwrap() error { return e.Err }

// Align rounds addr down to the word containing it.
func Align(addr uint64) uint64 {
	return addr &^ (WordSize - 1)
}

func shift(addr uint64) uint64 {
	return 8 * (addr - Align(addr))
}

// ReadByte returns the byte at addr.
func ReadByte(m WordAccessor, addr uint64) (byte, error) {
	word, err := m.PeekWord(Align(addr))
	if err != nil {
		return 0, err
	}
	return byte(word >> shift(addr)), nil
}

// WriteByte stores val at addr and returns the byte it replaced. Exactly
// one word is written back and the other bytes of that word keep their
// values.
func WriteByte(m WordAccessor, addr uint64, val byte) (byte, error) {
	aligned := Align(addr)
	word, err := m.PeekWord(aligned)
	if err != nil {
		return 0, err
	}
	s := shift(addr)
	orig := byte(word >> s)
	updated := word&^(0xff<<s) | uint64(val)<<s
	if err := m.PokeWord(aligned, updated); err != nil {
		return 0, err
	}
	return orig, nil
}

// ReadWord returns the little-endian word starting at addr. Unaligned
// addresses are served from the two aligned words they straddle.
func ReadWord(m WordAccessor, addr uint64) (uint64, error) {
	aligned := Align(addr)
	lo, err := m.PeekWord(aligned)
	if err != nil {
		return 0, err
	}
	s := shift(addr)
	if s == 0 {
		return lo, nil
	}
	hi, err := m.PeekWord(aligned + WordSize)
	if err != nil {
		return 0, err
	}
	return lo>>s | hi<<(64-s), nil
}

// ReadBytes copies up to n bytes starting at addr. The copy stops short at
// the first unreadable word; an error is returned only if nothing could be
// read.
func ReadBytes(m WordAccessor, addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	end := addr + uint64(n)
	for cur := Align(addr); cur < end; cur += WordSize {
		word, err := m.PeekWord(cur)
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		for i := uint64(0); i < WordSize; i++ {
			a := cur + i
			if a >= addr && a < end {
				out = append(out, byte(word>>(8*i)))
			}
		}
	}
	return out, nil
}
