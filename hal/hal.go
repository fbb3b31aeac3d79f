// Package hal declares the hardware interfaces the firmware core consumes:
// UART ports, GPIO pins with interrupts, die temperature and durable storage.
// Concrete providers live in hosthal (Linux bench rigs) and mcuhal (RP2).
package hal

import "powerbox-go/errcode"

// ErrNotFound is returned by Storage.ReadFile for a missing blob.
var ErrNotFound = errcode.Code("not_found")

// ---- GPIO abstractions ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
}

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// IRQPin extends GPIOPin with interrupts. Handlers run outside the
// cooperative world and must only touch scalar fields or push into a
// buffered channel.
type IRQPin interface {
	GPIOPin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory supplies GPIO pins by the configured number scheme.
type PinFactory interface {
	Pin(n int) (IRQPin, error)
}

// ---- UART ----

type UARTConfig struct {
	Baud uint32
}

// UARTPort is one serial link. Read never blocks longer than one poll tick;
// it returns what has arrived so far. Flush discards pending input.
type UARTPort interface {
	Configure(cfg UARTConfig) error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Buffered() int
	Flush()
}

// PortFactory supplies configured UART ports by id ("uart1", "uart2").
type PortFactory interface {
	Port(id string) (UARTPort, bool)
}

// ---- Ambient sensors ----

// TempSensor reads the controller die temperature in whole °C.
type TempSensor interface {
	DieTemperature() (int, error)
}

// ---- Durable storage ----

// Storage persists small named blobs (the profile). WriteFile must be atomic:
// a crash mid-write leaves the previous content intact.
type Storage interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
}
