//go:build !tinygo

package kernel

import (
	"testing"

	"bedrock/hal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingOverLoopback(t *testing.T) {
	net := hal.NewHostNet(hal.HostNetConfig{})
	defer func() { require.NoError(t, net.Shutdown()) }()
	k := newTestKernel(t, net)

	var addr string
	var reply []byte
	_, err := k.Spawn(func(t *Thread) {
		l := must(t.Listen(0))
		addr = must(net.Addr(l))
		c := must(t.Accept(l))
		buf := make([]byte, 32)
		for {
			n := must(t.Read(c, buf))
			if n == 0 {
				break
			}
			must(t.WriteAll(c, buf[:n]))
		}
		must(0, t.Close(c))
		must(0, t.Close(l))
		t.Exit()
	})
	require.NoError(t, err)
	_, err = k.Spawn(func(t *Thread) {
		c := must(t.Connect([]byte(addr)))
		t.Connected(c)
		must(t.WriteAll(c, []byte("hello over tcp")))
		buf := make([]byte, 32)
		for len(reply) < len("hello over tcp") {
			n := must(t.Read(c, buf))
			if n == 0 {
				break
			}
			reply = append(reply, buf[:n]...)
		}
		must(0, t.Close(c))
		t.Exit()
	})
	require.NoError(t, err)

	require.NoError(t, run(t, k))
	assert.Equal(t, "hello over tcp", string(reply))
	assert.True(t, k.Halted())
}
