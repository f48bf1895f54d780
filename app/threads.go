package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"bedrock/hal"
	"bedrock/kernel"
)

const (
	echoBufBytes   = 256
	connectRetries = 8
)

func (s *System) echo(spec ThreadSpec) kernel.Entry {
	return func(t *kernel.Thread) {
		s.serve(t, spec)
		t.Exit()
	}
}

func (s *System) serve(t *kernel.Thread, spec ThreadSpec) {
	l, err := t.Listen(spec.Port)
	if err != nil {
		s.logf("echo[%d]: %v", t.ID(), err)
		return
	}
	s.logf("echo[%d]: listening on port %d", t.ID(), spec.Port)

	for served := 0; spec.Conns == 0 || served < spec.Conns; served++ {
		c, err := t.Accept(l)
		if err != nil {
			s.logf("echo[%d]: accept: %v", t.ID(), err)
			break
		}
		id, err := t.Spawn(s.echoConn(c))
		if err != nil {
			s.logf("echo[%d]: %v, dropping connection", t.ID(), err)
			_ = t.Close(c)
			continue
		}
		s.logf("echo[%d]: connection %d handled by thread %d", t.ID(), served+1, id)
	}
	if err := t.Close(l); err != nil {
		s.logf("echo[%d]: close listener: %v", t.ID(), err)
	}
}

func (s *System) echoConn(c hal.FD) kernel.Entry {
	return func(t *kernel.Thread) {
		var buf [echoBufBytes]byte
		total := 0
		for {
			n, err := t.Read(c, buf[:])
			if err != nil {
				s.logf("conn[%d]: read: %v", t.ID(), err)
				break
			}
			if n == 0 {
				break
			}
			if _, err := t.WriteAll(c, buf[:n]); err != nil {
				s.logf("conn[%d]: write: %v", t.ID(), err)
				break
			}
			total += n
		}
		_ = t.Close(c)
		s.logf("conn[%d]: closed after %d bytes", t.ID(), total)
		t.Exit()
	}
}

func (s *System) ping(spec ThreadSpec) kernel.Entry {
	return func(t *kernel.Thread) {
		r := s.runPing(t, spec)
		s.pings = append(s.pings, r)
		if r.Err != nil {
			s.logf("ping[%d]: %d/%d echoed: %v", t.ID(), r.Echoed, r.Sent, r.Err)
		} else {
			s.logf("ping[%d]: %d/%d echoed", t.ID(), r.Echoed, r.Sent)
		}
		t.Exit()
	}
}

func (s *System) runPing(t *kernel.Thread, spec ThreadSpec) PingResult {
	r := PingResult{Thread: t.ID(), Addr: spec.Addr}

	c, err := dial(t, spec.Addr)
	if err != nil {
		r.Err = err
		return r
	}
	defer func() {
		if err := t.Close(c); err != nil && r.Err == nil {
			r.Err = err
		}
	}()

	msg := []byte(spec.Msg)
	buf := make([]byte, len(msg))
	for i := 0; i < spec.Count; i++ {
		if _, err := t.WriteAll(c, msg); err != nil {
			r.Err = err
			return r
		}
		r.Sent++
		if err := readFull(t, c, buf); err != nil {
			r.Err = err
			return r
		}
		if !bytes.Equal(buf, msg) {
			r.Err = fmt.Errorf("echo mismatch: got %q, want %q", buf, msg)
			return r
		}
		r.Echoed++
	}
	return r
}

// dial connects to addr, yielding and retrying while nothing listens there
// yet so a ping may start before its server.
func dial(t *kernel.Thread, addr string) (hal.FD, error) {
	var err error
	for i := 0; i <= connectRetries; i++ {
		var c hal.FD
		c, err = t.Connect([]byte(addr))
		if err == nil {
			t.Connected(c)
			return c, nil
		}
		if !errors.Is(err, hal.ErrRefused) {
			return 0, err
		}
		t.Yield()
	}
	return 0, err
}

func readFull(t *kernel.Thread, c hal.FD, buf []byte) error {
	for got := 0; got < len(buf); {
		n, err := t.Read(c, buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		got += n
	}
	return nil
}

func (s *System) watchdog(spec ThreadSpec) kernel.Entry {
	return func(t *kernel.Thread) {
		k := t.Kernel()
		a := k.Arena()
		peak, deepest := 0, 0
		for i := 0; i < spec.Yields; i++ {
			peak = max(peak, k.Live())
			for _, ti := range k.Snapshot() {
				if ti.State != kernel.Free && ti.ID != t.ID() {
					deepest = max(deepest, a.HighWater(int(ti.ID)))
				}
			}
			t.Yield()
		}
		s.logf("watchdog[%d]: %d yields, peak live threads %d, deepest stack %d words", t.ID(), spec.Yields, peak, deepest)
		t.Exit()
	}
}
