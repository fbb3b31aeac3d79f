//go:build rp2040 || rp2350

// Package mcuhal backs the hal interfaces on RP2-family controllers using the
// machine package and the uartx driver.
package mcuhal

import (
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"powerbox-go/errcode"
	"powerbox-go/hal"
)

// ---- GPIO ----

type Pins struct{}

func (Pins) Pin(n int) (hal.IRQPin, error) {
	// Constrain to RP2's user GPIOs (GP0..GP28).
	if n < 0 || n > 28 {
		return nil, errcode.PinFailed
	}
	return &rp2Pin{p: machine.Pin(n), n: n}, nil
}

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) ConfigureInput(pull hal.Pull) error {
	var mode machine.PinMode
	switch pull {
	case hal.PullUp:
		mode = machine.PinInputPullup
	case hal.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }
func (r *rp2Pin) Number() int    { return r.n }

func (r *rp2Pin) SetIRQ(edge hal.Edge, handler func()) error {
	return r.p.SetInterrupt(toPinChange(edge), func(machine.Pin) { handler() })
}

func (r *rp2Pin) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func toPinChange(e hal.Edge) machine.PinChange {
	switch e {
	case hal.EdgeRising:
		return machine.PinRising
	case hal.EdgeFalling:
		return machine.PinFalling
	case hal.EdgeBoth:
		return machine.PinToggle
	default:
		var zero machine.PinChange
		return zero
	}
}

// ---- UART ----

type rp2Port struct{ u *uartx.UART }

func (r *rp2Port) Configure(cfg hal.UARTConfig) error {
	if cfg.Baud > 0 {
		r.u.SetBaudRate(cfg.Baud)
	}
	return nil
}

func (r *rp2Port) Write(p []byte) (int, error) { return r.u.Write(p) }

func (r *rp2Port) Read(p []byte) (int, error) {
	if r.u.Buffered() == 0 {
		return 0, nil
	}
	return r.u.Read(p)
}

func (r *rp2Port) Buffered() int { return r.u.Buffered() }

func (r *rp2Port) Flush() {
	var scratch [32]byte
	for r.u.Buffered() > 0 {
		if _, err := r.u.Read(scratch[:]); err != nil {
			return
		}
	}
}

// Ports exposes UART0 and UART1. Baud is set per link via Configure.
type Ports struct{ m map[string]*rp2Port }

func NewPorts() *Ports {
	_ = uartx.UART0.Configure(uartx.UARTConfig{}) // enable RX IRQ + defaults
	_ = uartx.UART1.Configure(uartx.UARTConfig{})
	return &Ports{m: map[string]*rp2Port{
		"uart1": {u: uartx.UART0},
		"uart2": {u: uartx.UART1},
	}}
}

func (f *Ports) Port(id string) (hal.UARTPort, bool) {
	u, ok := f.m[id]
	return u, ok
}

// ---- Die temperature ----

type Temp struct{}

func (Temp) DieTemperature() (int, error) {
	// ReadTemperature returns milli-°C on the RP2 port.
	return int(machine.ReadTemperature()) / 1000, nil
}
