package hal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Transport = (*SimNet)(nil)

func establish(t *testing.T, n *SimNet, port uint16) (l, cli, srv FD) {
	t.Helper()
	l, err := n.Listen(port)
	require.NoError(t, err)

	addr, err := n.Addr(l)
	require.NoError(t, err)
	cli, err = n.Connect([]byte(addr))
	require.NoError(t, err)

	done, err := n.ConnectDone(cli)
	require.NoError(t, err)
	require.False(t, done, "first poll only starts the handshake")
	done, err = n.ConnectDone(cli)
	require.NoError(t, err)
	require.True(t, done)

	srv, err = n.Accept(l)
	require.NoError(t, err)
	return l, cli, srv
}

func TestSimNetListenBindError(t *testing.T) {
	n := NewSimNet(SimConfig{})
	_, err := n.Listen(9000)
	require.NoError(t, err)

	_, err = n.Listen(9000)
	var be *BindError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, uint16(9000), be.Port)
	assert.True(t, errors.Is(err, ErrAddrInUse))
}

func TestSimNetEphemeralPort(t *testing.T) {
	n := NewSimNet(SimConfig{})
	a, err := n.Listen(0)
	require.NoError(t, err)
	b, err := n.Listen(0)
	require.NoError(t, err)

	addrA, _ := n.Addr(a)
	addrB, _ := n.Addr(b)
	assert.NotEqual(t, addrA, addrB)
}

func TestSimNetConnectErrors(t *testing.T) {
	n := NewSimNet(SimConfig{})
	_, err := n.Listen(9000)
	require.NoError(t, err)

	cases := []struct {
		addr string
		want error
	}{
		{"no-port", ErrBadAddress},
		{"127.0.0.1:http", ErrBadAddress},
		{"10.1.2.3:9000", ErrUnreachable},
		{"127.0.0.1:9001", ErrRefused},
	}
	for _, c := range cases {
		_, err := n.Connect([]byte(c.addr))
		var ce *ConnectError
		require.True(t, errors.As(err, &ce), c.addr)
		assert.Equal(t, c.addr, ce.Addr)
		assert.True(t, errors.Is(err, c.want), "%s: %v", c.addr, err)
	}

	fd, err := n.Connect([]byte("localhost:9000"))
	require.NoError(t, err)
	assert.NotZero(t, fd)
}

func TestSimNetRoundTrip(t *testing.T) {
	n := NewSimNet(SimConfig{})
	_, cli, srv := establish(t, n, 9000)

	w, err := n.Write(srv, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, w)

	buf := make([]byte, 4)
	r, err := n.Read(cli, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), buf[:r])

	_, err = n.Read(cli, buf)
	assert.True(t, errors.Is(err, ErrWouldBlock))
}

func TestSimNetHandlesTrackOpenSockets(t *testing.T) {
	n := NewSimNet(SimConfig{})
	assert.Empty(t, n.Handles())

	l, cli, srv := establish(t, n, 9000)
	fds := n.Handles()
	assert.ElementsMatch(t, []FD{l, cli, srv}, fds)
	assert.IsIncreasing(t, fds)
	assert.Equal(t, 3, n.Open())

	require.NoError(t, n.Close(cli))
	assert.ElementsMatch(t, []FD{l, srv}, n.Handles())
	require.NoError(t, n.Close(srv))
	require.NoError(t, n.Close(l))
	assert.Empty(t, n.Handles())
}

func TestSimNetAcceptWouldBlock(t *testing.T) {
	n := NewSimNet(SimConfig{})
	l, err := n.Listen(9000)
	require.NoError(t, err)

	_, err = n.Accept(l)
	assert.True(t, errors.Is(err, ErrWouldBlock))

	_, err = n.Connect([]byte("127.0.0.1:9000"))
	require.NoError(t, err)
	srv, err := n.Accept(l)
	require.NoError(t, err)
	assert.NotZero(t, srv)
}

func TestSimNetEOFIsIdempotent(t *testing.T) {
	n := NewSimNet(SimConfig{})
	_, cli, srv := establish(t, n, 9000)

	_, err := n.Write(srv, []byte("bye"))
	require.NoError(t, err)
	require.NoError(t, n.Close(srv))

	buf := make([]byte, 8)
	r, err := n.Read(cli, buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:r]))

	for i := 0; i < 3; i++ {
		r, err = n.Read(cli, buf)
		require.NoError(t, err)
		assert.Zero(t, r)
	}

	_, err = n.Write(cli, []byte("x"))
	assert.True(t, errors.Is(err, ErrPeerClosed))
}

func TestSimNetMaxChunkAndBackpressure(t *testing.T) {
	n := NewSimNet(SimConfig{BufferBytes: 3, MaxChunk: 1})
	_, cli, srv := establish(t, n, 9000)

	total := 0
	for i := 0; i < 3; i++ {
		w, err := n.Write(cli, []byte("abcdef"[total:]))
		require.NoError(t, err)
		require.Equal(t, 1, w)
		total += w
	}
	_, err := n.Write(cli, []byte("def"))
	assert.True(t, errors.Is(err, ErrWouldBlock))

	buf := make([]byte, 8)
	r, err := n.Read(srv, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, r)
	assert.Equal(t, byte('a'), buf[0])
}

func TestSimNetInvalidHandles(t *testing.T) {
	n := NewSimNet(SimConfig{})
	l, cli, srv := establish(t, n, 9000)

	_, err := n.Accept(cli)
	assert.True(t, errors.Is(err, ErrInvalidHandle))
	_, err = n.Read(l, make([]byte, 1))
	assert.True(t, errors.Is(err, ErrInvalidHandle))

	require.NoError(t, n.Close(srv))
	assert.True(t, errors.Is(n.Close(srv), ErrInvalidHandle))
	_, err = n.Write(srv, []byte("x"))
	assert.True(t, errors.Is(err, ErrInvalidHandle))

	require.NoError(t, n.Close(cli))
	require.NoError(t, n.Close(l))
	assert.Zero(t, n.Open())
}

func TestSimNetListenerCloseRefusesPending(t *testing.T) {
	n := NewSimNet(SimConfig{})
	l, err := n.Listen(9000)
	require.NoError(t, err)
	cli, err := n.Connect([]byte("127.0.0.1:9000"))
	require.NoError(t, err)

	require.NoError(t, n.Close(l))
	require.NoError(t, n.Wait(context.Background()))

	done, err := n.ConnectDone(cli)
	assert.True(t, done)
	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, ErrRefused))

	_, err = n.Read(cli, make([]byte, 1))
	assert.True(t, errors.As(err, &ce))
}

func TestSimNetWaitWithoutPending(t *testing.T) {
	n := NewSimNet(SimConfig{})
	assert.True(t, errors.Is(n.Wait(context.Background()), ErrNoProgress))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(n.Wait(ctx), context.Canceled))
}

func TestSimNetWaitCountsHandshakesLandedOnPoll(t *testing.T) {
	n := NewSimNet(SimConfig{})
	_, err := n.Listen(9000)
	require.NoError(t, err)
	cli, err := n.Connect([]byte("127.0.0.1:9000"))
	require.NoError(t, err)

	// The poll lands the handshake, so the following Wait still reports
	// progress, and only the one after that is idle.
	done, err := n.ConnectDone(cli)
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, n.Wait(context.Background()))
	assert.True(t, errors.Is(n.Wait(context.Background()), ErrNoProgress))
}
