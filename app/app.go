// Package app wires a kernel over a HAL and runs a scenario of echo, ping
// and watchdog threads on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"bedrock/arena"
	"bedrock/hal"
	"bedrock/kernel"
)

type Config struct {
	Layout  arena.Layout
	Debug   bool
	Threads []ThreadSpec
}

// DefaultScenario runs one echo server, one client and a watchdog that keeps
// the scheduler busy in between.
const DefaultScenario = `
echo 9000 1
ping 127.0.0.1:9000 hello 3
watchdog 16
`

// PingResult is how one ping thread ended.
type PingResult struct {
	Thread kernel.ThreadID
	Addr   string
	Sent   int
	Echoed int
	Err    error
}

// OK reports whether every message came back intact.
func (r PingResult) OK() bool { return r.Err == nil && r.Echoed == r.Sent }

// System is a kernel plus the scenario threads spawned on it.
type System struct {
	h   hal.HAL
	log hal.Logger
	k   *kernel.Kernel

	pings []PingResult
}

// New creates the kernel and spawns one thread per scenario line. Nothing
// runs until Run.
func New(h hal.HAL, cfg Config) (*System, error) {
	s := &System{h: h, log: h.Logger()}
	k, err := kernel.New(kernel.Config{
		Layout:    cfg.Layout,
		Transport: h.Network(),
		Logger:    s.log,
		Debug:     cfg.Debug,
		OnFatal:   s.onFatal,
	})
	if err != nil {
		return nil, err
	}
	s.k = k

	for _, spec := range cfg.Threads {
		var entry kernel.Entry
		switch spec.Role {
		case RoleEcho:
			entry = s.echo(spec)
		case RolePing:
			entry = s.ping(spec)
		case RoleWatchdog:
			entry = s.watchdog(spec)
		default:
			return nil, fmt.Errorf("%w: unknown role %v", ErrScenario, spec.Role)
		}
		if _, err := k.Spawn(entry); err != nil {
			return nil, fmt.Errorf("spawn %q: %w", spec, err)
		}
	}
	return s, nil
}

// Kernel returns the system's kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Pings returns the result of every ping thread that finished.
func (s *System) Pings() []PingResult { return s.pings }

// Run runs the kernel until it halts. A halted run whose pings did not all
// come back is reported as an error.
func (s *System) Run(ctx context.Context) error {
	if err := s.k.Run(ctx); err != nil {
		return err
	}
	st := s.k.Stats()
	s.logf("halted: dispatches=%d yields=%d waits=%d exits=%d", st.Dispatches, st.Yields, st.Waits, st.Exits)
	m := s.k.Arena().Metrics()
	intact := 0
	for _, slot := range m.Slots {
		if slot.Intact {
			intact++
		}
	}
	s.logf("arena: %d bytes at %#x, %d/%d canaries intact", m.TotalBytes, uintptr(m.Base), intact, len(m.Slots))

	var errs []error
	for _, p := range s.pings {
		if !p.OK() {
			errs = append(errs, fmt.Errorf("ping %s from thread %d: %d/%d echoed: %w", p.Addr, p.Thread, p.Echoed, p.Sent, p.errOrShort()))
		}
	}
	return errors.Join(errs...)
}

// Run builds a system over h and runs it.
func Run(ctx context.Context, h hal.HAL, cfg Config) error {
	s, err := New(h, cfg)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

var errShortEcho = errors.New("echo incomplete")

func (r PingResult) errOrShort() error {
	if r.Err != nil {
		return r.Err
	}
	return errShortEcho
}

func (s *System) logf(format string, args ...any) {
	if s.log == nil {
		return
	}
	s.log.WriteLineString(fmt.Sprintf(format, args...))
}
