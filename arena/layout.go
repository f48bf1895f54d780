package arena

import "fmt"

// Word is the arena's unit of storage.
type Word = uint32

// WordSize is the size of a Word in bytes.
const WordSize = 4

// Addr is a byte address inside an arena.
type Addr uintptr

const (
	// DefaultDataWords sizes the general data region. The last word of the
	// region is the dispatch word, at 1024*1024+51.
	DefaultDataWords = 1024*1024 + 52

	// DefaultStackWords is the per-thread stack slot size (16 KiB).
	DefaultStackWords = 4096

	// DefaultThreads is the number of thread slots.
	DefaultThreads = 16

	// MaxThreads bounds Layout.Threads so a thread index fits a uint8.
	MaxThreads = 255

	// minStackWords leaves room for at least one pushed word plus the canary.
	minStackWords = 2
)

// Canary marks the last word of every stack slot. A slot whose canary no
// longer holds this value has been overrun.
const Canary Word = 0x5AFEB10C

// Layout is the build-time memory map of an arena: a data region followed by
// Threads stack slots of StackWords words each.
type Layout struct {
	DataWords  int
	StackWords int
	Threads    int
}

// DefaultLayout returns the default memory map.
func DefaultLayout() Layout {
	return Layout{
		DataWords:  DefaultDataWords,
		StackWords: DefaultStackWords,
		Threads:    DefaultThreads,
	}
}

// Validate reports whether the layout can back a scheduler.
func (l Layout) Validate() error {
	if l.DataWords < 1 {
		return fmt.Errorf("arena: data region must hold the dispatch word, got %d words", l.DataWords)
	}
	if l.StackWords < minStackWords {
		return fmt.Errorf("arena: stack slot of %d words is smaller than %d", l.StackWords, minStackWords)
	}
	if l.Threads < 1 || l.Threads > MaxThreads {
		return fmt.Errorf("arena: thread count %d out of range [1,%d]", l.Threads, MaxThreads)
	}
	return nil
}

// Words returns the total arena size in words.
func (l Layout) Words() int {
	return l.DataWords + l.Threads*l.StackWords
}

// StackRegionOffset is the word offset of slot 0.
func (l Layout) StackRegionOffset() int { return l.DataWords }

// DispatchWord is the word offset of the slot that carries a thread index
// into the entry trampoline.
func (l Layout) DispatchWord() int { return l.DataWords - 1 }

// StackBase returns the first byte address of slot i for an arena starting
// at base. It depends on nothing but its arguments.
func (l Layout) StackBase(base Addr, i int) Addr {
	return base + Addr((l.StackRegionOffset()+i*l.StackWords)*WordSize)
}

// StackLimit returns the first byte address past slot i.
func (l Layout) StackLimit(base Addr, i int) Addr {
	return l.StackBase(base, i+1)
}

// CanaryAddr returns the byte address of slot i's canary word.
func (l Layout) CanaryAddr(base Addr, i int) Addr {
	return l.StackLimit(base, i) - WordSize
}
