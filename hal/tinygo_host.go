//go:build tinygo && !baremetal

package hal

type tinyGoHostHAL struct {
	logger tinyGoHostLogger
	net    Transport
}

// New returns a HAL for `tinygo run` targets such as linux or wasm, where
// there are no pins and no sockets.
func New() HAL {
	return &tinyGoHostHAL{net: NewSimNet(SimConfig{})}
}

func (h *tinyGoHostHAL) Logger() Logger     { return h.logger }
func (h *tinyGoHostHAL) Network() Transport { return h.net }

type tinyGoHostLogger struct{}

func (tinyGoHostLogger) WriteLineString(s string) { println(s) }

func (tinyGoHostLogger) WriteLineBytes(b []byte) { println(string(b)) }
