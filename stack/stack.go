// Package stack reconstructs the call stack of a stopped tracee by
// following saved frame pointers.
//
// On amd64 a frame that has run its prologue looks like
//
//	[fb+8] return address into the caller
//	[fb]   caller's frame base
//
// where fb is the value of RBP.
package stack

import (
	"fmt"

	"github.com/chainhelen/deet/bininfo"
	"github.com/chainhelen/deet/mem"
)

const (
	// DefaultMaxDepth bounds a walk over a corrupt chain.
	DefaultMaxDepth = 1024

	returnAddressOffset = 8
)

// Target is the register and memory view of a stopped tracee.
type Target interface {
	mem.WordAccessor
	PC() (uint64, error)
	FramePointer() (uint64, error)
}

// Resolver maps addresses to source positions. Either lookup may fail.
type Resolver interface {
	ResolveLine(pc uint64) (bininfo.Line, bool)
	ResolveFunction(pc uint64) (string, bool)
}

// Frame is one entry of a backtrace. Line is nil and Function empty when
// the resolver does not know pc.
type Frame struct {
	PC        uint64
	FrameBase uint64
	Line      *bininfo.Line
	Function  string
}

func (f Frame) String() string {
	fn := f.Function
	if fn == "" {
		fn = "unknown func"
	}
	if f.Line == nil {
		return fmt.Sprintf("%s (source file not found)", fn)
	}
	return fmt.Sprintf("%s (%s)", fn, f.Line)
}

// Iterator yields frames innermost first. It is bound to the process state
// at the time of the first Next call and must not be reused after the
// tracee runs again.
type Iterator struct {
	target   Target
	resolver Resolver
	entry    string

	MaxDepth int

	started bool
	done    bool
	// last marks the frame produced by advance as the final one
	last    bool
	pc, fb  uint64
	depth   int
	frame   Frame
	err     error
}

// NewIterator walks target's stack until it reaches the function named
// entry or a frame the resolver cannot name.
func NewIterator(target Target, resolver Resolver, entry string) *Iterator {
	return &Iterator{target: target, resolver: resolver, entry: entry, MaxDepth: DefaultMaxDepth}
}

// Next resolves the next frame. It returns false once the walk is over.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		if it.pc, it.err = it.target.PC(); it.err != nil {
			it.done = true
			return false
		}
		if it.fb, it.err = it.target.FramePointer(); it.err != nil {
			it.done = true
			return false
		}
	} else if !it.advance() {
		it.done = true
		return false
	}

	it.frame = Frame{PC: it.pc, FrameBase: it.fb}
	if l, ok := it.resolver.ResolveLine(it.pc); ok {
		it.frame.Line = &l
	}
	fn, ok := it.resolver.ResolveFunction(it.pc)
	it.frame.Function = fn
	it.depth++
	if !ok || fn == it.entry || it.depth >= it.MaxDepth || it.last {
		// this frame is still reported, the walk ends after it
		it.done = true
	}
	return true
}

// advance moves to the caller of the current frame. Read failures end the
// walk and are kept in Err.
func (it *Iterator) advance() bool {
	if it.fb == 0 {
		return false
	}
	ret, err := mem.ReadWord(it.target, it.fb+returnAddressOffset)
	if err != nil {
		it.err = err
		return false
	}
	next, err := mem.ReadWord(it.target, it.fb)
	if err != nil {
		it.err = err
		return false
	}
	// callers live at higher addresses. The frame of ret is still
	// reported when its saved base does not, the walk ends after it.
	if next != 0 && next <= it.fb {
		it.last = true
	}
	it.pc, it.fb = ret, next
	return true
}

// Frame returns the frame produced by the last successful Next.
func (it *Iterator) Frame() Frame {
	return it.frame
}

// Err reports why the walk stopped early, if it was a failed read.
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the iterator into a slice, keeping at most max frames
// (max <= 0 means no limit).
func Collect(it *Iterator, max int) ([]Frame, error) {
	var frames []Frame
	for it.Next() {
		frames = append(frames, it.Frame())
		if max > 0 && len(frames) >= max {
			break
		}
	}
	return frames, it.Err()
}
