//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// HostConfig selects the host HAL's log sink and network backend.
type HostConfig struct {
	// Log receives log lines; nil means stdout.
	Log io.Writer
	// Sim selects the in-memory network instead of TCP sockets.
	Sim    bool
	SimNet SimConfig
	TCP    HostNetConfig
}

type hostHAL struct {
	logger Logger
	net    Transport
}

// New returns a host HAL backed by TCP sockets, logging to stdout.
func New() HAL {
	return NewHost(HostConfig{})
}

// NewHost returns a host HAL for cfg.
func NewHost(cfg HostConfig) HAL {
	w := cfg.Log
	if w == nil {
		w = os.Stdout
	}
	h := &hostHAL{logger: WriterLogger(w)}
	if cfg.Sim {
		h.net = NewSimNet(cfg.SimNet)
	} else {
		h.net = NewHostNet(cfg.TCP)
	}
	return h
}

func (h *hostHAL) Logger() Logger     { return h.logger }
func (h *hostHAL) Network() Transport { return h.net }

// Close releases the network backend.
func (h *hostHAL) Close() error {
	if hn, ok := h.net.(*HostNet); ok {
		return hn.Shutdown()
	}
	return nil
}

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// WriterLogger returns a Logger writing lines to w. Writes are serialized.
func WriterLogger(w io.Writer) Logger {
	return &hostLogger{w: w}
}
