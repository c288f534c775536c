// Package memtest provides an in-memory stand-in for tracee memory.
package memtest

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/chainhelen/deet/mem"
)

// Fake is an in-memory mem.WordAccessor for tests. Words not present in Words
// are unmapped.
type Fake struct {
	Words map[uint64]uint64
	// Accesses records every address handed to PeekWord and PokeWord.
	Accesses []uint64
	// Pokes counts PokeWord calls.
	Pokes int
}

// NewFake maps size bytes of zeroed memory starting at base.
func NewFake(base uint64, size int) *Fake {
	f := &Fake{Words: make(map[uint64]uint64)}
	for a := mem.Align(base); a < base+uint64(size); a += mem.WordSize {
		f.Words[a] = 0
	}
	return f
}

func (f *Fake) PeekWord(addr uint64) (uint64, error) {
	f.Accesses = append(f.Accesses, addr)
	if addr%mem.WordSize != 0 {
		return 0, errors.Errorf("unaligned peek at %#x", addr)
	}
	w, ok := f.Words[addr]
	if !ok {
		return 0, &mem.InvalidAddressError{Addr: addr}
	}
	return w, nil
}

func (f *Fake) PokeWord(addr uint64, word uint64) error {
	f.Accesses = append(f.Accesses, addr)
	if addr%mem.WordSize != 0 {
		return errors.Errorf("unaligned poke at %#x", addr)
	}
	if _, ok := f.Words[addr]; !ok {
		return &mem.InvalidAddressError{Addr: addr}
	}
	f.Pokes++
	f.Words[addr] = word
	return nil
}

// Bytes returns the mapped memory as a flat dump ordered by address.
func (f *Fake) Bytes() []byte {
	addrs := make([]uint64, 0, len(f.Words))
	for a := range f.Words {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	out := make([]byte, 0, len(addrs)*mem.WordSize)
	for _, a := range addrs {
		w := f.Words[a]
		for i := 0; i < mem.WordSize; i++ {
			out = append(out, byte(w>>(8*i)))
		}
	}
	return out
}
