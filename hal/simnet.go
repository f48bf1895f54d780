package hal

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// SimConfig configures a SimNet.
type SimConfig struct {
	// Host is the only address the network answers to, besides "localhost".
	Host string
	// BufferBytes is the capacity of each connection direction.
	BufferBytes int
	// MaxChunk caps the bytes moved by a single Read or Write (0 = no cap).
	MaxChunk int
	// Backlog caps the established connections waiting in Accept.
	Backlog int
}

const (
	defaultSimHost    = "127.0.0.1"
	defaultSimBuffer  = 4096
	defaultSimBacklog = 8
	firstEphemeral    = 49152
)

func (c SimConfig) withDefaults() SimConfig {
	if c.Host == "" {
		c.Host = defaultSimHost
	}
	if c.BufferBytes <= 0 {
		c.BufferBytes = defaultSimBuffer
	}
	if c.Backlog <= 0 {
		c.Backlog = defaultSimBacklog
	}
	return c
}

type sockKind uint8

const (
	sockListener sockKind = iota + 1
	sockConn
)

type connState uint8

const (
	connConnecting connState = iota
	connEstablished
	connFailed
)

type simSock struct {
	kind sockKind
	fd   FD

	// listener
	port    uint16
	backlog []FD

	// connection
	state  connState
	addr   string
	target uint16
	err    error
	peer   *simSock
	in     ring
	eof    bool
	closed bool
}

// SimNet is a deterministic, single-host, in-memory Transport. It has no
// goroutines and no clock: handshakes complete when a connect is polled or
// when Wait is called.
//
// SimNet is not safe for concurrent use; the kernel only ever calls it from
// the thread holding the baton.
type SimNet struct {
	cfg     SimConfig
	socks   *handleTable[*simSock]
	ports   map[uint16]FD
	pending []*simSock
	nextEph uint16

	// landed counts handshakes resolved since the last Wait.
	landed int
}

// NewSimNet returns an empty simulated network.
func NewSimNet(cfg SimConfig) *SimNet {
	return &SimNet{
		cfg:     cfg.withDefaults(),
		socks:   newHandleTable[*simSock](),
		ports:   make(map[uint16]FD),
		nextEph: firstEphemeral,
	}
}

// Open returns the number of open handles.
func (n *SimNet) Open() int { return n.socks.len() }

// Handles returns the open handles in ascending order.
func (n *SimNet) Handles() []FD { return n.socks.fds() }

// Addr returns the host:port a listener is bound to.
func (n *SimNet) Addr(l FD) (string, error) {
	s, ok := n.socks.get(l)
	if !ok || s.kind != sockListener {
		return "", ErrInvalidHandle
	}
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(int(s.port))), nil
}

func (n *SimNet) Listen(port uint16) (FD, error) {
	if port == 0 {
		p, ok := n.ephemeral()
		if !ok {
			return 0, &BindError{Port: port, Err: ErrAddrInUse}
		}
		port = p
	}
	if _, used := n.ports[port]; used {
		return 0, &BindError{Port: port, Err: ErrAddrInUse}
	}
	s := &simSock{kind: sockListener, port: port}
	s.fd = n.socks.add(s)
	n.ports[port] = s.fd
	return s.fd, nil
}

func (n *SimNet) ephemeral() (uint16, bool) {
	for i := 0; i < 1<<16-firstEphemeral; i++ {
		p := n.nextEph
		n.nextEph++
		if n.nextEph == 0 {
			n.nextEph = firstEphemeral
		}
		if _, used := n.ports[p]; !used {
			return p, true
		}
	}
	return 0, false
}

func (n *SimNet) Accept(l FD) (FD, error) {
	s, ok := n.socks.get(l)
	if !ok || s.kind != sockListener {
		return 0, ErrInvalidHandle
	}
	if len(s.backlog) == 0 {
		n.step()
	}
	if len(s.backlog) == 0 {
		return 0, ErrWouldBlock
	}
	fd := s.backlog[0]
	s.backlog = s.backlog[1:]
	return fd, nil
}

func (n *SimNet) Connect(addr []byte) (FD, error) {
	a := string(addr)
	host, portStr, err := net.SplitHostPort(a)
	if err != nil {
		return 0, &ConnectError{Addr: a, Err: fmt.Errorf("%w: %v", ErrBadAddress, err)}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return 0, &ConnectError{Addr: a, Err: ErrBadAddress}
	}
	if host != n.cfg.Host && host != "localhost" {
		return 0, &ConnectError{Addr: a, Err: ErrUnreachable}
	}
	if _, ok := n.ports[uint16(port)]; !ok {
		return 0, &ConnectError{Addr: a, Err: ErrRefused}
	}
	s := &simSock{kind: sockConn, state: connConnecting, addr: a, target: uint16(port)}
	s.fd = n.socks.add(s)
	n.pending = append(n.pending, s)
	return s.fd, nil
}

func (n *SimNet) ConnectDone(fd FD) (bool, error) {
	s, ok := n.conn(fd)
	if !ok {
		return true, ErrInvalidHandle
	}
	switch s.state {
	case connEstablished:
		return true, nil
	case connFailed:
		return true, s.err
	}
	// The first poll puts the handshake on the wire; a later one sees it land.
	n.step()
	return false, nil
}

func (n *SimNet) Read(fd FD, p []byte) (int, error) {
	s, err := n.ready(fd)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if got := s.in.pop(n.chunk(p)); got > 0 {
		return got, nil
	}
	if s.eof {
		return 0, nil
	}
	return 0, ErrWouldBlock
}

func (n *SimNet) Write(fd FD, p []byte) (int, error) {
	s, err := n.ready(fd)
	if err != nil {
		return 0, err
	}
	if s.peer == nil {
		return 0, ErrPeerClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if put := s.peer.in.push(n.chunk(p)); put > 0 {
		return put, nil
	}
	return 0, ErrWouldBlock
}

func (n *SimNet) Close(fd FD) error {
	s, ok := n.socks.remove(fd)
	if !ok {
		return ErrInvalidHandle
	}
	switch s.kind {
	case sockListener:
		delete(n.ports, s.port)
		for _, q := range s.backlog {
			_ = n.Close(q)
		}
		s.backlog = nil
	case sockConn:
		s.closed = true
		if s.peer != nil {
			s.peer.eof = true
			s.peer.peer = nil
			s.peer = nil
		}
	}
	return nil
}

// Wait completes outstanding handshakes. It returns ErrNoProgress when no
// handshake landed since the previous Wait, since nothing else in a closed
// network moves on its own.
func (n *SimNet) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.step()
	landed := n.landed
	n.landed = 0
	if landed == 0 {
		return ErrNoProgress
	}
	return nil
}

// step resolves every pending handshake and returns how many it resolved.
func (n *SimNet) step() int {
	pending := n.pending
	n.pending = nil
	resolved := 0
	for _, c := range pending {
		if c.closed {
			continue
		}
		resolved++
		lfd, ok := n.ports[c.target]
		if !ok {
			n.fail(c, ErrRefused)
			continue
		}
		l, _ := n.socks.get(lfd)
		if len(l.backlog) >= n.cfg.Backlog {
			n.fail(c, ErrRefused)
			continue
		}
		srv := &simSock{
			kind:  sockConn,
			state: connEstablished,
			addr:  c.addr,
			peer:  c,
			in:    newRing(n.cfg.BufferBytes),
		}
		srv.fd = n.socks.add(srv)
		c.in = newRing(n.cfg.BufferBytes)
		c.peer = srv
		c.state = connEstablished
		l.backlog = append(l.backlog, srv.fd)
	}
	n.landed += resolved
	return resolved
}

func (n *SimNet) fail(c *simSock, err error) {
	c.state = connFailed
	c.err = &ConnectError{Addr: c.addr, Err: err}
}

func (n *SimNet) conn(fd FD) (*simSock, bool) {
	s, ok := n.socks.get(fd)
	if !ok || s.kind != sockConn {
		return nil, false
	}
	return s, true
}

// ready returns an established connection, driving a pending handshake
// forward first.
func (n *SimNet) ready(fd FD) (*simSock, error) {
	s, ok := n.conn(fd)
	if !ok {
		return nil, ErrInvalidHandle
	}
	if s.state == connConnecting {
		n.step()
	}
	switch s.state {
	case connConnecting:
		return nil, ErrWouldBlock
	case connFailed:
		return nil, s.err
	}
	return s, nil
}

func (n *SimNet) chunk(p []byte) []byte {
	if n.cfg.MaxChunk > 0 && len(p) > n.cfg.MaxChunk {
		return p[:n.cfg.MaxChunk]
	}
	return p
}
