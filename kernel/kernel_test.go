package kernel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bedrock/arena"
	"bedrock/hal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLayout = arena.Layout{DataWords: 8, StackWords: 16, Threads: 4}

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *lineLog) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *lineLog) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func newTestKernel(t *testing.T, net hal.Transport) *Kernel {
	t.Helper()
	k, err := New(Config{Layout: testLayout, Transport: net})
	require.NoError(t, err)
	return k
}

func run(t *testing.T, k *Kernel) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return k.Run(ctx)
}

func exitAt(t *Thread) { t.Exit() }

func TestNewRejectsBadLayout(t *testing.T) {
	_, err := New(Config{Layout: arena.Layout{DataWords: 8, StackWords: 16, Threads: 0}})
	assert.Error(t, err)

	k, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, arena.DefaultLayout(), k.Arena().Layout())
}

func TestSpawnDistinctSlotsThenOutOfSlots(t *testing.T) {
	k := newTestKernel(t, nil)

	seen := map[ThreadID]bool{}
	for i := 0; i < testLayout.Threads; i++ {
		id, err := k.Spawn(exitAt)
		require.NoError(t, err)
		assert.Equal(t, ThreadID(i), id)
		assert.False(t, seen[id])
		seen[id] = true
		assert.Equal(t, Ready, k.State(id))
	}

	_, err := k.Spawn(exitAt)
	assert.True(t, errors.Is(err, ErrOutOfSlots))
	_, err = k.Spawn(nil)
	assert.True(t, errors.Is(err, ErrNilEntry))
	assert.Equal(t, testLayout.Threads, k.Live())
}

func TestStacksDoNotOverlap(t *testing.T) {
	k := newTestKernel(t, nil)
	snap := k.Snapshot()
	require.Len(t, snap, testLayout.Threads)

	for i := 1; i < len(snap); i++ {
		gap := snap[i].StackBase - snap[i-1].StackBase
		assert.Equal(t, arena.Addr(testLayout.StackWords*arena.WordSize), gap)
	}
}

func TestTrampolineInstallsStackBase(t *testing.T) {
	k := newTestKernel(t, nil)

	type seenAt struct {
		id       ThreadID
		sp, base arena.Addr
		dispatch arena.Word
	}
	var got []seenAt
	entry := func(t *Thread) {
		a := t.Kernel().Arena()
		got = append(got, seenAt{
			id:       t.ID(),
			sp:       t.SP(),
			base:     t.StackBase(),
			dispatch: a.Load(a.Base() + arena.Addr(a.Layout().DispatchWord()*arena.WordSize)),
		})
		t.Exit()
	}
	for i := 0; i < 3; i++ {
		_, err := k.Spawn(entry)
		require.NoError(t, err)
	}

	require.NoError(t, run(t, k))
	require.Len(t, got, 3)
	for i, g := range got {
		want := testLayout.StackBase(k.Arena().Base(), i)
		assert.Equal(t, ThreadID(i), g.id)
		assert.Equal(t, want, g.sp)
		assert.Equal(t, want, g.base)
		assert.Equal(t, arena.Word(i), g.dispatch)
	}
}

func TestExitNeverResumesAndHalts(t *testing.T) {
	k := newTestKernel(t, nil)
	resumed := false
	_, err := k.Spawn(func(t *Thread) {
		t.Exit()
		resumed = true
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.False(t, resumed)
	assert.True(t, k.Halted())
	assert.Zero(t, k.Live())
	assert.Equal(t, Free, k.State(0))

	select {
	case <-k.Done():
	default:
		t.Fatal("Done not closed after Run")
	}
}

func TestExitedSlotIsReused(t *testing.T) {
	k := newTestKernel(t, nil)

	var first, second ThreadID
	var firstBase, secondBase arena.Addr
	var leftover arena.Word = 1

	_, err := k.Spawn(func(t *Thread) {
		var err error
		first, err = t.Spawn(func(c *Thread) {
			firstBase = c.StackBase()
			c.Push(0xDEAD)
			c.Exit()
		})
		if err != nil {
			panic(err)
		}
		t.Yield()

		second, err = t.Spawn(func(c *Thread) {
			secondBase = c.StackBase()
			leftover = c.Stack()[0]
			c.Exit()
		})
		if err != nil {
			panic(err)
		}
		t.Yield()
		t.Exit()
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.Equal(t, ThreadID(1), first)
	assert.Equal(t, first, second)
	assert.Equal(t, firstBase, secondBase)
	assert.Zero(t, leftover, "slot not scrubbed between threads")
	assert.Equal(t, uint64(3), k.Stats().Exits)
}

func TestRoundRobinFairness(t *testing.T) {
	k := newTestKernel(t, nil)

	var order []ThreadID
	entry := func(t *Thread) {
		for i := 0; i < 3; i++ {
			order = append(order, t.ID())
			t.Yield()
		}
		t.Exit()
	}
	for i := 0; i < 3; i++ {
		_, err := k.Spawn(entry)
		require.NoError(t, err)
	}

	require.NoError(t, run(t, k))
	assert.Equal(t, []ThreadID{0, 1, 2, 0, 1, 2, 0, 1, 2}, order)
}

func TestLoneYieldReselectsCaller(t *testing.T) {
	k := newTestKernel(t, nil)
	n := 0
	_, err := k.Spawn(func(t *Thread) {
		for i := 0; i < 5; i++ {
			t.Yield()
			n++
		}
		t.Exit()
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.Equal(t, 5, n)
	st := k.Stats()
	assert.Equal(t, uint64(5), st.Yields)
	assert.Equal(t, uint64(6), st.Dispatches)
}

func TestSpawnFromThreadRunsLater(t *testing.T) {
	k := newTestKernel(t, nil)

	var order []string
	_, err := k.Spawn(func(t *Thread) {
		_, err := t.Spawn(func(c *Thread) {
			order = append(order, "child")
			c.Exit()
		})
		if err != nil {
			panic(err)
		}
		order = append(order, "parent")
		_, err = t.Kernel().Spawn(exitAt)
		if !errors.Is(err, ErrRunning) {
			panic("Kernel.Spawn from a thread should fail")
		}
		t.Exit()
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.Equal(t, []string{"parent", "child"}, order)
}

func TestSnapshotFromRunningThread(t *testing.T) {
	k := newTestKernel(t, nil)
	_, err := k.Spawn(exitAt)
	require.NoError(t, err)

	var snap []ThreadInfo
	_, err = k.Spawn(func(t *Thread) {
		t.Push(7)
		snap = t.Kernel().Snapshot()
		t.Exit()
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	require.Len(t, snap, testLayout.Threads)
	assert.Equal(t, Free, snap[0].State)
	assert.Equal(t, Running, snap[1].State)
	assert.Equal(t, snap[1].StackBase+arena.WordSize, snap[1].SP)
	assert.Equal(t, Free, snap[2].State)
}

func TestPushPop(t *testing.T) {
	k := newTestKernel(t, nil)
	var popped []arena.Word
	var depth int
	_, err := k.Spawn(func(t *Thread) {
		t.Push(1)
		t.Push(2)
		t.Yield()
		depth = int(t.SP()-t.StackBase()) / arena.WordSize
		popped = append(popped, t.Pop(), t.Pop())
		t.Exit()
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.Equal(t, 2, depth)
	assert.Equal(t, []arena.Word{2, 1}, popped)
}

func TestRunTwice(t *testing.T) {
	k := newTestKernel(t, nil)
	require.NoError(t, run(t, k))
	assert.True(t, k.Halted())
	assert.True(t, errors.Is(run(t, k), ErrRunning))
}

func TestDebugLogging(t *testing.T) {
	log := &lineLog{}
	k, err := New(Config{Layout: testLayout, Logger: log, Debug: true})
	require.NoError(t, err)
	_, err = k.Spawn(exitAt)
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.True(t, log.contains("kernel: spawn: thread=0"))
	assert.True(t, log.contains("kernel: exit: thread=0"))
	assert.True(t, log.contains("kernel: halt"))
}

func TestStopKillsThreads(t *testing.T) {
	k := newTestKernel(t, nil)
	reached := false
	_, err := k.Spawn(func(t *Thread) {
		for {
			t.Yield()
		}
	})
	require.NoError(t, err)
	_, err = k.Spawn(func(t *Thread) {
		t.Kernel().Stop()
		t.Yield()
		reached = true
		t.Exit()
	})
	require.NoError(t, err)

	err = run(t, k)
	assert.True(t, errors.Is(err, ErrStopped))
	assert.False(t, reached)
	assert.False(t, k.Halted())
}

func TestContextCancelStopsRun(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := k.Spawn(func(t *Thread) {
		cancel()
		for {
			t.Yield()
		}
	})
	require.NoError(t, err)

	assert.True(t, errors.Is(k.Run(ctx), context.Canceled))
}
