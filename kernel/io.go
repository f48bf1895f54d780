package kernel

import (
	"errors"

	"bedrock/hal"
)

// Listen reserves port on the kernel's transport. It never suspends.
func (t *Thread) Listen(port uint16) (hal.FD, error) {
	t.mustBeRunning()
	fd, err := t.k.net.Listen(port)
	if err != nil {
		var be *hal.BindError
		if !errors.As(err, &be) {
			err = &hal.BindError{Port: port, Err: err}
		}
		return 0, err
	}
	t.k.progress()
	return fd, nil
}

// Accept returns the next connection on listener l, yielding while none is
// queued.
func (t *Thread) Accept(l hal.FD) (hal.FD, error) {
	return block(t, func() (hal.FD, error) { return t.k.net.Accept(l) })
}

// Connect starts an outbound connection to a host:port address. It never
// suspends; use Connected to wait for the handshake.
func (t *Thread) Connect(addr []byte) (hal.FD, error) {
	t.mustBeRunning()
	fd, err := t.k.net.Connect(addr)
	if err != nil {
		return 0, err
	}
	t.k.progress()
	return fd, nil
}

// Connected yields until the connection attempt on fd resolves either way.
// A failed attempt is reported by the next Read or Write on fd.
func (t *Thread) Connected(fd hal.FD) {
	t.mustBeRunning()
	for {
		done, _ := t.k.net.ConnectDone(fd)
		if done {
			t.k.progress()
			return
		}
		t.park(trapWait)
	}
}

// Read reads at least one byte into buf, yielding while nothing is
// available. It returns 0, nil once the peer closed and everything it sent
// was read, and keeps doing so on later calls.
func (t *Thread) Read(fd hal.FD, buf []byte) (int, error) {
	return block(t, func() (int, error) { return t.k.net.Read(fd, buf) })
}

// Write writes at least one byte of buf, yielding while the transport has no
// room. It may write less than len(buf).
func (t *Thread) Write(fd hal.FD, buf []byte) (int, error) {
	return block(t, func() (int, error) { return t.k.net.Write(fd, buf) })
}

// WriteAll writes buf in full, returning how much was written before any
// error.
func (t *Thread) WriteAll(fd hal.FD, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := t.Write(fd, buf[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close releases fd. Closing an unknown or already closed handle fails with
// hal.ErrInvalidHandle.
func (t *Thread) Close(fd hal.FD) error {
	t.mustBeRunning()
	if err := t.k.net.Close(fd); err != nil {
		return err
	}
	t.k.progress()
	return nil
}

// block retries op, parking the thread between attempts, until it stops
// reporting hal.ErrWouldBlock.
func block[T any](t *Thread, op func() (T, error)) (T, error) {
	t.mustBeRunning()
	for {
		v, err := op()
		if !errors.Is(err, hal.ErrWouldBlock) {
			t.k.progress()
			return v, err
		}
		t.park(trapWait)
	}
}
