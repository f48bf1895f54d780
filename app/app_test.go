package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bedrock/arena"
	"bedrock/hal"
	"bedrock/kernel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLayout = arena.Layout{DataWords: 64, StackWords: 64, Threads: 8}

func simSystem(t *testing.T, scenario string, sim hal.SimConfig) (*System, *bytes.Buffer) {
	t.Helper()
	var log bytes.Buffer
	h := hal.NewHost(hal.HostConfig{Log: &log, Sim: true, SimNet: sim})
	threads, err := ParseScenario(scenario)
	require.NoError(t, err)
	s, err := New(h, Config{Layout: testLayout, Threads: threads})
	require.NoError(t, err)
	return s, &log
}

func runSystem(t *testing.T, s *System) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func TestDefaultScenario(t *testing.T) {
	s, log := simSystem(t, DefaultScenario, hal.SimConfig{})

	require.NoError(t, runSystem(t, s))
	require.Len(t, s.Pings(), 1)
	assert.True(t, s.Pings()[0].OK())
	assert.Equal(t, 3, s.Pings()[0].Echoed)
	assert.True(t, s.Kernel().Halted())

	out := log.String()
	assert.Contains(t, out, "echo[0]: listening on port 9000")
	assert.Contains(t, out, "ping[1]: 3/3 echoed")
	assert.Contains(t, out, "watchdog[2]: 16 yields")
	assert.Contains(t, out, "halted:")
	assert.Contains(t, out, "8/8 canaries intact")
}

func TestEchoServesEachClientOnItsOwnThread(t *testing.T) {
	s, log := simSystem(t, `
echo 9000 2
ping 127.0.0.1:9000 first 2
ping 127.0.0.1:9000 second 2
`, hal.SimConfig{MaxChunk: 3})

	require.NoError(t, runSystem(t, s))
	require.Len(t, s.Pings(), 2)
	for _, p := range s.Pings() {
		assert.True(t, p.OK(), "%+v", p)
	}
	assert.Equal(t, 2, strings.Count(log.String(), "closed after"))
}

func TestPingBeforeServerRetries(t *testing.T) {
	s, _ := simSystem(t, "ping 127.0.0.1:9000 early\necho 9000 1", hal.SimConfig{})

	require.NoError(t, runSystem(t, s))
	require.Len(t, s.Pings(), 1)
	assert.True(t, s.Pings()[0].OK())
}

func TestPingWithoutServerFails(t *testing.T) {
	s, _ := simSystem(t, "ping 127.0.0.1:9000 lonely", hal.SimConfig{})

	err := runSystem(t, s)
	assert.True(t, errors.Is(err, hal.ErrRefused), "got %v", err)
	require.Len(t, s.Pings(), 1)
	assert.False(t, s.Pings()[0].OK())
	assert.True(t, s.Kernel().Halted())
}

func TestEchoBindFailureIsLogged(t *testing.T) {
	s, log := simSystem(t, "echo 9000 1\necho 9000 1\nping 127.0.0.1:9000 hi", hal.SimConfig{})

	require.NoError(t, runSystem(t, s))
	assert.Contains(t, log.String(), "echo[1]: bind port 9000")
}

func TestFatalDumpsThreadTable(t *testing.T) {
	s, log := simSystem(t, "watchdog 100", hal.SimConfig{})
	_, err := s.Kernel().Spawn(func(t *kernel.Thread) { panic("boom") })
	require.NoError(t, err)

	err = runSystem(t, s)
	var fe *kernel.FatalError
	require.True(t, errors.As(err, &fe), "got %v", err)

	out := log.String()
	assert.Contains(t, out, "kernel panic: thread 1")
	assert.Contains(t, out, "bedrock fatal: thread=1")
	assert.Contains(t, out, "slot 0: ready")
}

func TestNewRejectsTooManyThreads(t *testing.T) {
	h := hal.NewHost(hal.HostConfig{Log: &bytes.Buffer{}, Sim: true})
	threads := make([]ThreadSpec, 3)
	for i := range threads {
		threads[i] = ThreadSpec{Role: RoleWatchdog, Yields: 1}
	}
	_, err := New(h, Config{Layout: arena.Layout{DataWords: 4, StackWords: 4, Threads: 2}, Threads: threads})
	assert.ErrorIs(t, err, kernel.ErrOutOfSlots)
}

func TestTakeRunes(t *testing.T) {
	p, rest := takeRunes("héllo", 2)
	assert.Equal(t, "hé", p)
	assert.Equal(t, "llo", rest)

	p, rest = takeRunes("ab", 5)
	assert.Equal(t, "ab", p)
	assert.Empty(t, rest)
}
