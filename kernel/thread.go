package kernel

import (
	"fmt"
	"runtime"

	"bedrock/arena"
)

// Thread is the handle a running thread uses to talk to its kernel. It is
// only valid inside the entry it was passed to.
type Thread struct {
	k  *Kernel
	id ThreadID

	sp    arena.Addr
	base  arena.Addr
	limit arena.Addr

	exiting bool
	killed  bool
}

// ID returns the thread's slot index.
func (t *Thread) ID() ThreadID { return t.id }

// Kernel returns the kernel running t.
func (t *Thread) Kernel() *Kernel { return t.k }

// SP returns the current stack pointer.
func (t *Thread) SP() arena.Addr { return t.sp }

// StackBase returns the lowest address of the thread's stack slot.
func (t *Thread) StackBase() arena.Addr { return t.base }

// Yield gives the CPU to the next ready thread. It returns once this thread
// is scheduled again, which is immediately if no other thread is ready.
func (t *Thread) Yield() {
	t.mustBeRunning()
	t.park(trapYield)
}

// Exit ends the thread. Its slot is scrubbed and returned to the pool. Exit
// does not return.
func (t *Thread) Exit() {
	t.mustBeRunning()
	t.exiting = true
	runtime.Goexit()
}

// Spawn starts a sibling thread. The new thread first runs at a later
// scheduling point.
func (t *Thread) Spawn(entry Entry) (ThreadID, error) {
	t.mustBeRunning()
	return t.k.spawn(entry)
}

// Push stores w on top of the thread's stack. Stacks grow toward the slot's
// canary; reaching it is fatal.
func (t *Thread) Push(w arena.Word) {
	if t.sp >= t.limit {
		panic(fmt.Errorf("%w: sp=%#x limit=%#x", ErrStackOverflow, uintptr(t.sp), uintptr(t.limit)))
	}
	t.k.arena.Store(t.sp, w)
	t.sp += arena.WordSize
}

// Pop removes and returns the word on top of the stack.
func (t *Thread) Pop() arena.Word {
	if t.sp <= t.base {
		panic(fmt.Errorf("%w: sp=%#x", ErrStackUnderflow, uintptr(t.sp)))
	}
	t.sp -= arena.WordSize
	return t.k.arena.Load(t.sp)
}

// Stack returns the thread's slot as words, without the canary. Writes
// through it land in the arena.
func (t *Thread) Stack() []arena.Word {
	s := t.k.arena.Slot(int(t.id))
	n := len(s) - 1
	return s[:n:n]
}

func (t *Thread) mustBeRunning() {
	if t.k == nil || t.k.current != int(t.id) {
		panic(ErrNotRunning)
	}
}

// park traps to the dispatch loop and blocks until the thread is picked
// again. A false wake means the kernel is tearing down.
func (t *Thread) park(kind trapKind) {
	t.k.traps <- trap{kind: kind, id: t.id}
	if !<-t.k.table[t.id].wake {
		t.killed = true
		runtime.Goexit()
	}
}
