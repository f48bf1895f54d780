package hal

import (
	"context"
	"errors"
	"fmt"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// FD identifies one open transport endpoint: a listener or a connection.
type FD uint32

var (
	// ErrWouldBlock reports that a non-blocking transport call cannot make
	// progress yet.
	ErrWouldBlock = errors.New("operation would block")

	// ErrInvalidHandle reports use of an unknown or closed FD, or of an FD
	// of the wrong kind (for example Accept on a connection).
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrPeerClosed reports a write to a connection whose peer has closed.
	ErrPeerClosed = errors.New("peer closed")

	// ErrNoProgress is returned by Transport.Wait when nothing can ever
	// change again without a thread acting first.
	ErrNoProgress = errors.New("no progress possible")

	ErrAddrInUse   = errors.New("address in use")
	ErrRefused     = errors.New("connection refused")
	ErrBadAddress  = errors.New("bad address")
	ErrUnreachable = errors.New("host unreachable")
)

// BindError is returned by Listen when the port cannot be reserved.
type BindError struct {
	Port uint16
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectError is returned when an outbound connection fails, either from
// Connect itself or from the first I/O on a connection that never came up.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Transport is the non-blocking network backend under the kernel's I/O
// calls. Calls that cannot make progress return ErrWouldBlock and the
// caller retries later; none of them block except Wait.
//
// Byte strings are always passed with their length; nothing here scans for
// a terminator.
type Transport interface {
	// Listen reserves port and returns a listener handle.
	Listen(port uint16) (FD, error)
	// Accept returns the next established connection on a listener.
	Accept(l FD) (FD, error)
	// Connect starts an outbound connection to a host:port address.
	Connect(addr []byte) (FD, error)
	// ConnectDone reports whether the connection attempt on fd resolved.
	ConnectDone(fd FD) (bool, error)
	// Read copies at least one byte into p, or returns 0, nil once the peer
	// has closed and everything it sent was consumed.
	Read(fd FD, p []byte) (int, error)
	// Write accepts at least one byte of p.
	Write(fd FD, p []byte) (int, error)
	// Close releases fd.
	Close(fd FD) error
	// Wait blocks until some pending call may have become possible.
	Wait(ctx context.Context) error
}

// HAL provides the only contact point between the kernel and the outside world.
type HAL interface {
	Logger() Logger
	Network() Transport
}
