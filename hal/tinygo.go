//go:build tinygo && baremetal

package hal

import "machine"

type tinyGoHAL struct {
	logger *uartLogger
	net    Transport
}

// New returns a Pico 2 (RP2350) HAL. The board has no network interface, so
// threads talk over the in-memory network.
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 115200 8N1.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})
	return &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		net:    NewSimNet(SimConfig{BufferBytes: 512}),
	}
}

func (h *tinyGoHAL) Logger() Logger     { return h.logger }
func (h *tinyGoHAL) Network() Transport { return h.net }
