//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"golang.org/x/sync/errgroup"
)

// HostNetConfig configures a HostNet.
type HostNetConfig struct {
	// Host is the interface listeners bind to.
	Host string
	// BufferBytes sizes each connection's inbound and outbound buffers.
	BufferBytes int
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// ExclusiveAddr disables SO_REUSEADDR on listeners.
	ExclusiveAddr bool
}

const (
	defaultHostBuffer  = 64 * 1024
	defaultDialTimeout = 5 * time.Second
	pumpChunk          = 4096
)

func (c HostNetConfig) withDefaults() HostNetConfig {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.BufferBytes <= 0 {
		c.BufferBytes = defaultHostBuffer
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

type hostSock struct {
	kind sockKind

	ln    net.Listener
	queue []net.Conn
	lerr  error

	conn  net.Conn
	state connState
	addr  string
	err   error

	in   ring
	eof  bool
	rerr error

	out  ring
	werr error

	space  chan struct{}
	flush  chan struct{}
	closed bool
}

// HostNet is a Transport over real TCP sockets. Socket I/O runs on pump
// goroutines that fill and drain fixed buffers; the Transport methods only
// touch those buffers and never block.
type HostNet struct {
	cfg    HostNetConfig
	mu     sync.Mutex
	socks  *handleTable[*hostSock]
	notify chan struct{}

	halt   *idem.Halter
	g      *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// NewHostNet returns a TCP transport. Call Shutdown to release it.
func NewHostNet(cfg HostNetConfig) *HostNet {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	return &HostNet{
		cfg:    cfg.withDefaults(),
		socks:  newHandleTable[*hostSock](),
		notify: make(chan struct{}, 1),
		halt:   idem.NewHalter(),
		g:      g,
		gctx:   gctx,
		cancel: cancel,
	}
}

func (n *HostNet) signal() {
	select {
	case n.notify <- struct{}{}:
	default:
	}
}

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Addr returns the local address of a listener, which is how callers learn
// the port picked for Listen(0).
func (n *HostNet) Addr(l FD) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.socks.get(l)
	if !ok || s.kind != sockListener {
		return "", ErrInvalidHandle
	}
	return s.ln.Addr().String(), nil
}

func (n *HostNet) Listen(port uint16) (FD, error) {
	lc := net.ListenConfig{}
	if !n.cfg.ExclusiveAddr {
		lc.Control = reuseAddrControl
	}
	ln, err := lc.Listen(n.gctx, "tcp", net.JoinHostPort(n.cfg.Host, strconv.Itoa(int(port))))
	if err != nil {
		return 0, &BindError{Port: port, Err: bindCause(err)}
	}

	s := &hostSock{kind: sockListener, ln: ln}
	n.mu.Lock()
	fd := n.socks.add(s)
	n.mu.Unlock()

	n.g.Go(func() error {
		n.acceptLoop(s)
		return nil
	})
	return fd, nil
}

func (n *HostNet) acceptLoop(s *hostSock) {
	for {
		c, err := s.ln.Accept()
		n.mu.Lock()
		if err != nil {
			if !s.closed {
				s.lerr = err
			}
			n.mu.Unlock()
			n.signal()
			return
		}
		if s.closed {
			n.mu.Unlock()
			_ = c.Close()
			return
		}
		s.queue = append(s.queue, c)
		n.mu.Unlock()
		n.signal()
	}
}

func (n *HostNet) Accept(l FD) (FD, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.socks.get(l)
	if !ok || s.kind != sockListener {
		return 0, ErrInvalidHandle
	}
	if len(s.queue) == 0 {
		if s.lerr != nil {
			return 0, s.lerr
		}
		return 0, ErrWouldBlock
	}
	c := s.queue[0]
	s.queue = s.queue[1:]

	cs := n.newConn(c.RemoteAddr().String())
	cs.conn = c
	cs.state = connEstablished
	fd := n.socks.add(cs)
	n.startPumps(cs)
	return fd, nil
}

func (n *HostNet) newConn(addr string) *hostSock {
	return &hostSock{
		kind:  sockConn,
		addr:  addr,
		in:    newRing(n.cfg.BufferBytes),
		out:   newRing(n.cfg.BufferBytes),
		space: make(chan struct{}, 1),
		flush: make(chan struct{}, 1),
	}
}

func (n *HostNet) Connect(addr []byte) (FD, error) {
	a := string(addr)
	if _, _, err := net.SplitHostPort(a); err != nil {
		return 0, &ConnectError{Addr: a, Err: ErrBadAddress}
	}

	s := n.newConn(a)
	n.mu.Lock()
	fd := n.socks.add(s)
	n.mu.Unlock()

	n.g.Go(func() error {
		d := net.Dialer{Timeout: n.cfg.DialTimeout}
		c, err := d.DialContext(n.gctx, "tcp", a)

		n.mu.Lock()
		defer n.signal()
		defer n.mu.Unlock()
		switch {
		case s.closed:
			if c != nil {
				_ = c.Close()
			}
		case err != nil:
			s.state = connFailed
			s.err = &ConnectError{Addr: a, Err: err}
		default:
			s.conn = c
			s.state = connEstablished
			n.startPumps(s)
		}
		return nil
	})
	return fd, nil
}

// startPumps must be called with n.mu held.
func (n *HostNet) startPumps(s *hostSock) {
	n.g.Go(func() error {
		n.readPump(s)
		return nil
	})
	n.g.Go(func() error {
		n.writePump(s)
		return nil
	})
}

func (n *HostNet) readPump(s *hostSock) {
	buf := make([]byte, pumpChunk)
	for {
		n.mu.Lock()
		free, closed := s.in.free(), s.closed
		n.mu.Unlock()
		if closed {
			return
		}
		if free == 0 {
			select {
			case <-s.space:
				continue
			case <-n.halt.ReqStop.Chan:
				return
			}
		}

		k, err := s.conn.Read(buf[:min(free, len(buf))])
		n.mu.Lock()
		s.in.push(buf[:k])
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
			} else if !s.closed {
				s.rerr = err
			}
		}
		n.mu.Unlock()
		n.signal()
		if err != nil {
			return
		}
	}
}

func (n *HostNet) writePump(s *hostSock) {
	buf := make([]byte, pumpChunk)
	for {
		select {
		case <-s.flush:
		case <-n.halt.ReqStop.Chan:
			return
		}
		for {
			n.mu.Lock()
			k := s.out.pop(buf)
			closed := s.closed
			n.mu.Unlock()

			if k == 0 {
				if closed {
					_ = s.conn.Close()
					return
				}
				break
			}
			if _, err := s.conn.Write(buf[:k]); err != nil {
				n.mu.Lock()
				s.werr = err
				n.mu.Unlock()
				n.signal()
				_ = s.conn.Close()
				return
			}
			n.signal()
		}
	}
}

func (n *HostNet) ConnectDone(fd FD) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.socks.get(fd)
	if !ok || s.kind != sockConn {
		return true, ErrInvalidHandle
	}
	switch s.state {
	case connConnecting:
		return false, nil
	case connFailed:
		return true, s.err
	}
	return true, nil
}

// ready must be called with n.mu held.
func (n *HostNet) ready(fd FD) (*hostSock, error) {
	s, ok := n.socks.get(fd)
	if !ok || s.kind != sockConn {
		return nil, ErrInvalidHandle
	}
	switch s.state {
	case connConnecting:
		return nil, ErrWouldBlock
	case connFailed:
		return nil, s.err
	}
	return s, nil
}

func (n *HostNet) Read(fd FD, p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, err := n.ready(fd)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if k := s.in.pop(p); k > 0 {
		poke(s.space)
		return k, nil
	}
	if s.eof {
		return 0, nil
	}
	if s.rerr != nil {
		return 0, s.rerr
	}
	return 0, ErrWouldBlock
}

func (n *HostNet) Write(fd FD, p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, err := n.ready(fd)
	if err != nil {
		return 0, err
	}
	if s.werr != nil {
		return 0, s.werr
	}
	if len(p) == 0 {
		return 0, nil
	}
	k := s.out.push(p)
	if k == 0 {
		return 0, ErrWouldBlock
	}
	poke(s.flush)
	return k, nil
}

// Close releases fd. Buffered outbound bytes are still flushed before the
// socket closes.
func (n *HostNet) Close(fd FD) error {
	n.mu.Lock()
	s, ok := n.socks.remove(fd)
	if !ok {
		n.mu.Unlock()
		return ErrInvalidHandle
	}
	s.closed = true
	queue := s.queue
	s.queue = nil
	n.mu.Unlock()

	switch s.kind {
	case sockListener:
		for _, c := range queue {
			_ = c.Close()
		}
		return s.ln.Close()
	case sockConn:
		if s.conn != nil {
			poke(s.flush)
			poke(s.space)
		}
	}
	return nil
}

// Wait blocks until a socket event happened since the last Wait, ctx is
// done, or the transport shuts down.
func (n *HostNet) Wait(ctx context.Context) error {
	select {
	case <-n.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.halt.ReqStop.Chan:
		return ErrNoProgress
	}
}

// Shutdown closes every socket and waits for the pump goroutines.
func (n *HostNet) Shutdown() error {
	n.halt.ReqStop.Close()
	n.cancel()

	n.mu.Lock()
	var socks []*hostSock
	for _, fd := range n.socks.fds() {
		s, _ := n.socks.remove(fd)
		s.closed = true
		socks = append(socks, s)
	}
	n.mu.Unlock()

	for _, s := range socks {
		if s.ln != nil {
			_ = s.ln.Close()
			for _, c := range s.queue {
				_ = c.Close()
			}
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}
	err := n.g.Wait()
	n.halt.Done.Close()
	return err
}
