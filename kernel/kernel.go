// Package kernel is a cooperative, single-core thread scheduler whose thread
// stacks live in fixed slots of one static arena, plus the blocking I/O calls
// threads use to talk to a hal.Transport.
//
// Exactly one thread runs at a time. A thread keeps the CPU until it yields,
// blocks in I/O, or exits.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"bedrock/arena"
	"bedrock/hal"

	"github.com/glycerine/idem"
)

// Entry is a thread body. It must finish by calling Thread.Exit; returning
// from it is fatal.
type Entry func(t *Thread)

// Config configures a Kernel.
type Config struct {
	// Layout is the arena memory map; the zero value selects
	// arena.DefaultLayout().
	Layout arena.Layout
	// Transport backs the I/O calls; nil selects hal.NullNetwork().
	Transport hal.Transport
	// Logger receives fatal diagnostics, and lifecycle lines when Debug is set.
	Logger hal.Logger
	Debug  bool
	// OnFatal is called once, on the dispatch loop, before Run returns a
	// *FatalError.
	OnFatal func(*FatalError)
}

// Stats counts scheduler events since New.
type Stats struct {
	Spawns     uint64
	Dispatches uint64
	Yields     uint64
	Waits      uint64
	Exits      uint64
	IdleWaits  uint64
}

type trapKind uint8

const (
	trapYield trapKind = iota + 1
	trapWait
	trapExit
	trapReturn
	trapPanic
)

// trap is how a thread hands the CPU back to the dispatch loop.
type trap struct {
	kind  trapKind
	id    ThreadID
	err   error
	value any
	stack []byte
}

// Kernel is a cooperative scheduler over a fixed descriptor table.
type Kernel struct {
	cfg    Config
	layout arena.Layout
	arena  *arena.Arena
	net    hal.Transport
	log    hal.Logger

	table   []descriptor
	threads []Thread

	traps   chan trap
	current int
	rr      ThreadID

	live    sync.WaitGroup
	running atomic.Bool
	halted  bool
	halt    *idem.Halter
	fatal   *FatalError
	stats   Stats
}

// New creates a kernel and its arena. The arena and descriptor table are
// the only allocations of the kernel's lifetime.
func New(cfg Config) (*Kernel, error) {
	if cfg.Layout == (arena.Layout{}) {
		cfg.Layout = arena.DefaultLayout()
	}
	a, err := arena.New(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if cfg.Transport == nil {
		cfg.Transport = hal.NullNetwork()
	}
	return &Kernel{
		cfg:     cfg,
		layout:  cfg.Layout,
		arena:   a,
		net:     cfg.Transport,
		log:     cfg.Logger,
		table:   newTable(cfg.Layout.Threads),
		threads: make([]Thread, cfg.Layout.Threads),
		traps:   make(chan trap),
		current: -1,
		halt:    idem.NewHalter(),
	}, nil
}

// Arena returns the kernel's memory arena.
func (k *Kernel) Arena() *arena.Arena { return k.arena }

// Stats returns event counters. Call it when no thread is running.
func (k *Kernel) Stats() Stats { return k.stats }

// Halted reports whether Run ended because no thread was left.
func (k *Kernel) Halted() bool { return k.halted }

// Done is closed when Run returns.
func (k *Kernel) Done() <-chan struct{} { return k.halt.Done.Chan }

// Stop asks Run to tear down all threads and return ErrStopped at the next
// scheduling point. It is safe to call from any goroutine.
func (k *Kernel) Stop() { k.halt.ReqStop.Close() }

// Spawn registers a thread before Run starts. Running threads use
// Thread.Spawn.
func (k *Kernel) Spawn(entry Entry) (ThreadID, error) {
	if k.running.Load() {
		return 0, ErrRunning
	}
	return k.spawn(entry)
}

func (k *Kernel) spawn(entry Entry) (ThreadID, error) {
	if entry == nil {
		return 0, ErrNilEntry
	}
	id, ok := k.claim(entry)
	if !ok {
		return 0, ErrOutOfSlots
	}
	k.stats.Spawns++
	k.debugf("spawn: thread=%d stack=%#x", id, uintptr(k.arena.SlotBase(int(id))))
	return id, nil
}

// Run dispatches threads until none is left, a thread fails, the context
// ends, or Stop is called. It returns nil once the kernel halts normally.
// Run may be called once.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer k.halt.Done.Close()

	for {
		if err := k.interrupted(ctx); err != nil {
			k.abort()
			return err
		}

		if k.stalled() {
			k.stats.IdleWaits++
			if err := k.net.Wait(ctx); err != nil {
				ids := k.waiters()
				k.abort()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: threads %v waiting on I/O: %w", ErrDeadlock, ids, err)
			}
			k.progress()
		}

		id, ok := k.next()
		if !ok {
			k.halted = true
			k.debugf("halt: no ready threads")
			return nil
		}
		if err := k.dispatch(id); err != nil {
			k.abort()
			return err
		}
	}
}

func (k *Kernel) interrupted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-k.halt.ReqStop.Chan:
		return ErrStopped
	default:
		return nil
	}
}

// dispatch hands the CPU to id and blocks until it traps back.
func (k *Kernel) dispatch(id ThreadID) error {
	d := &k.table[id]
	d.state = Running
	d.waiting = false
	d.stalled = false
	k.current = int(id)
	k.rr = ThreadID((int(id) + 1) % len(k.table))
	k.stats.Dispatches++

	if !d.started {
		d.started = true
		k.live.Add(1)
		k.arena.Store(k.dispatchAddr(), arena.Word(id))
		go k.trampoline()
	} else {
		k.threads[id].sp = d.sp
		d.wake <- true
	}

	tr := <-k.traps
	k.current = -1
	return k.handle(tr)
}

func (k *Kernel) handle(tr trap) error {
	d := &k.table[tr.id]
	t := &k.threads[tr.id]

	switch tr.kind {
	case trapYield, trapWait:
		d.sp = t.sp
		d.state = Ready
		if !k.arena.Intact(int(tr.id)) {
			return k.fail(tr.id, ErrStackCorrupted, nil, nil)
		}
		if tr.kind == trapWait {
			d.waiting = true
			d.stalled = true
			k.stats.Waits++
		} else {
			k.stats.Yields++
		}
	case trapExit:
		d.state = Exited
		if !k.arena.Intact(int(tr.id)) {
			return k.fail(tr.id, ErrStackCorrupted, nil, nil)
		}
		k.release(tr.id)
		k.progress()
		k.stats.Exits++
		k.debugf("exit: thread=%d", tr.id)
	case trapReturn:
		d.state = Exited
		return k.fail(tr.id, ErrEntryReturned, nil, nil)
	case trapPanic:
		d.state = Exited
		return k.fail(tr.id, tr.err, tr.value, tr.stack)
	}
	return nil
}

// abort kills every parked thread and waits for their goroutines to end.
func (k *Kernel) abort() {
	for i := range k.table {
		d := &k.table[i]
		if d.started && d.state == Ready {
			d.wake <- false
		}
	}
	k.live.Wait()
}

// progress records that some I/O call got somewhere, so every waiter gets
// another try before the kernel blocks in the transport.
func (k *Kernel) progress() {
	for i := range k.table {
		k.table[i].stalled = false
	}
}

func (k *Kernel) dispatchAddr() arena.Addr {
	return k.arena.Base() + arena.Addr(k.layout.DispatchWord()*arena.WordSize)
}

func (k *Kernel) debugf(format string, args ...any) {
	if !k.cfg.Debug || k.log == nil {
		return
	}
	k.log.WriteLineString(fmt.Sprintf("kernel: "+format, args...))
}
