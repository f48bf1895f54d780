package kernel

// trampoline is the first code every thread runs. The dispatcher leaves the
// thread's index in the arena dispatch word; the trampoline derives the
// stack pointer from it and calls the entry.
func (k *Kernel) trampoline() {
	id := ThreadID(k.arena.Load(k.dispatchAddr()))
	t := &k.threads[id]
	*t = Thread{
		k:     k,
		id:    id,
		base:  k.arena.SlotBase(int(id)),
		limit: k.layout.CanaryAddr(k.arena.Base(), int(id)),
	}
	t.sp = t.base

	defer k.unwind(t)
	k.table[id].entry(t)
}

// unwind reports how a thread's goroutine ended. It must be the outermost
// deferred call of the trampoline.
func (k *Kernel) unwind(t *Thread) {
	defer k.live.Done()

	r := recover()
	switch {
	case t.killed:
	case r != nil:
		k.traps <- trap{
			kind:  trapPanic,
			id:    t.id,
			err:   panicCause(r),
			value: r,
			stack: captureStack(),
		}
	case t.exiting:
		k.traps <- trap{kind: trapExit, id: t.id}
	default:
		k.traps <- trap{kind: trapReturn, id: t.id}
	}
}
