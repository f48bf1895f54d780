// Package arena implements the static memory block that backs every thread
// stack. The arena is sized once from a Layout and never grows.
package arena

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrOutOfBounds is raised (as a panic value) when an address falls outside
// the arena or is not word aligned.
var ErrOutOfBounds = errors.New("arena: address out of bounds")

// Arena is one contiguous block of words split into a data region and
// per-thread stack slots.
type Arena struct {
	layout Layout
	words  []Word
	base   Addr
}

// New allocates an arena for the layout. This is the only allocation the
// arena ever makes; every slot starts with its canary armed.
func New(l Layout) (*Arena, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	words := make([]Word, l.Words())
	a := &Arena{
		layout: l,
		words:  words,
		base:   Addr(uintptr(unsafe.Pointer(&words[0]))),
	}
	for i := 0; i < l.Threads; i++ {
		a.arm(i)
	}
	return a, nil
}

// Layout returns the arena's memory map.
func (a *Arena) Layout() Layout { return a.layout }

// Base returns the byte address of word 0.
func (a *Arena) Base() Addr { return a.base }

// SlotBase returns the first byte address of slot i.
func (a *Arena) SlotBase(i int) Addr { return a.layout.StackBase(a.base, i) }

// SlotLimit returns the first byte address past slot i.
func (a *Arena) SlotLimit(i int) Addr { return a.layout.StackLimit(a.base, i) }

// Contains reports whether addr is a word-aligned address inside the arena.
func (a *Arena) Contains(addr Addr) bool {
	_, ok := a.index(addr)
	return ok
}

// Load reads the word at addr. It panics with ErrOutOfBounds when addr is
// not a word inside the arena.
func (a *Arena) Load(addr Addr) Word {
	return a.words[a.mustIndex(addr)]
}

// Store writes the word at addr. It panics with ErrOutOfBounds when addr is
// not a word inside the arena.
func (a *Arena) Store(addr Addr, w Word) {
	a.words[a.mustIndex(addr)] = w
}

// Data returns the data region.
func (a *Arena) Data() []Word {
	return a.words[:a.layout.DataWords:a.layout.DataWords]
}

// Slot returns slot i's words, canary included.
func (a *Arena) Slot(i int) []Word {
	lo := a.layout.StackRegionOffset() + i*a.layout.StackWords
	hi := lo + a.layout.StackWords
	return a.words[lo:hi:hi]
}

// Intact reports whether slot i's canary still holds.
func (a *Arena) Intact(i int) bool {
	s := a.Slot(i)
	return s[len(s)-1] == Canary
}

// Scrub zeroes slot i and re-arms its canary.
func (a *Arena) Scrub(i int) {
	clear(a.Slot(i))
	a.arm(i)
}

func (a *Arena) arm(i int) {
	s := a.Slot(i)
	s[len(s)-1] = Canary
}

func (a *Arena) index(addr Addr) (int, bool) {
	if addr < a.base {
		return 0, false
	}
	off := addr - a.base
	if off%WordSize != 0 {
		return 0, false
	}
	idx := int(off / WordSize)
	if idx >= len(a.words) {
		return 0, false
	}
	return idx, true
}

func (a *Arena) mustIndex(addr Addr) int {
	idx, ok := a.index(addr)
	if !ok {
		panic(fmt.Errorf("%w: %#x", ErrOutOfBounds, uintptr(addr)))
	}
	return idx
}
