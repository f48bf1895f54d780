package kernel

import "bedrock/arena"

// ThreadID is a thread's slot index in the descriptor table.
type ThreadID uint8

// State is the lifecycle state of a descriptor slot.
type State uint8

const (
	Free State = iota
	Ready
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

type descriptor struct {
	entry Entry
	state State

	// sp is the saved stack pointer of a parked thread.
	sp arena.Addr

	started bool
	waiting bool
	// stalled is set by an I/O wait and cleared by any progress.
	stalled bool
	wake    chan bool
}

// ThreadInfo is a snapshot of one descriptor slot.
type ThreadInfo struct {
	ID        ThreadID
	State     State
	SP        arena.Addr
	StackBase arena.Addr
	Waiting   bool
}

func newTable(n int) []descriptor {
	t := make([]descriptor, n)
	for i := range t {
		t[i].wake = make(chan bool)
	}
	return t
}

// claim binds entry to the lowest free slot.
func (k *Kernel) claim(entry Entry) (ThreadID, bool) {
	for i := range k.table {
		d := &k.table[i]
		if d.state != Free {
			continue
		}
		d.entry = entry
		d.state = Ready
		d.sp = 0
		d.started = false
		d.waiting = false
		d.stalled = false
		return ThreadID(i), true
	}
	return 0, false
}

// release returns a slot to the free pool once its thread is gone.
func (k *Kernel) release(id ThreadID) {
	k.arena.Scrub(int(id))
	d := &k.table[id]
	*d = descriptor{wake: d.wake}
	k.threads[id] = Thread{}
}

// next picks the next Ready slot round-robin, starting at k.rr.
func (k *Kernel) next() (ThreadID, bool) {
	n := len(k.table)
	for i := 0; i < n; i++ {
		id := (int(k.rr) + i) % n
		if k.table[id].state == Ready {
			return ThreadID(id), true
		}
	}
	return 0, false
}

// Live returns the number of slots that are not Free.
func (k *Kernel) Live() int {
	live := 0
	for i := range k.table {
		if k.table[i].state != Free {
			live++
		}
	}
	return live
}

// State returns the state of slot id.
func (k *Kernel) State(id ThreadID) State {
	if int(id) >= len(k.table) {
		return Free
	}
	return k.table[id].state
}

// Snapshot describes every slot. Call it before Run, after Run returns, or
// from a running thread.
func (k *Kernel) Snapshot() []ThreadInfo {
	out := make([]ThreadInfo, len(k.table))
	for i := range k.table {
		d := &k.table[i]
		sp := d.sp
		if d.state == Running {
			sp = k.threads[i].sp
		}
		out[i] = ThreadInfo{
			ID:        ThreadID(i),
			State:     d.state,
			SP:        sp,
			StackBase: k.arena.SlotBase(i),
			Waiting:   d.waiting,
		}
	}
	return out
}

func (k *Kernel) waiters() []ThreadID {
	var ids []ThreadID
	for i := range k.table {
		if k.table[i].state == Ready && k.table[i].waiting {
			ids = append(ids, ThreadID(i))
		}
	}
	return ids
}

// stalled reports whether every live thread has waited on I/O since the last
// progress. A thread that has not run yet or last yielded keeps it false.
func (k *Kernel) stalled() bool {
	live := 0
	for i := range k.table {
		d := &k.table[i]
		if d.state == Free {
			continue
		}
		if d.state != Ready || !d.started || !d.stalled {
			return false
		}
		live++
	}
	return live > 0
}
