// Package hosthal backs the hal interfaces on Linux bench rigs and
// single-board gateways: periph.io for GPIO, sysfs for the die temperature,
// plain files for durable storage.
package hosthal

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"powerbox-go/errcode"
	"powerbox-go/hal"
)

// Init loads the periph host drivers. Call once before handing out pins.
func Init() error {
	if _, err := host.Init(); err != nil {
		return errcode.Wrap(errcode.PinFailed, "hosthal.init", err)
	}
	return nil
}

// ---- GPIO ----

type Pins struct{}

func (Pins) Pin(n int) (hal.IRQPin, error) {
	p := gpioreg.ByName("GPIO" + strconv.Itoa(n))
	if p == nil {
		return nil, errcode.Wrap(errcode.PinFailed, "hosthal.pin", errcode.Code("unknown_pin"))
	}
	return &pin{p: p, n: n}, nil
}

type pin struct {
	p gpio.PinIO
	n int

	mu   sync.Mutex
	stop chan struct{}
}

func (h *pin) ConfigureInput(pull hal.Pull) error {
	return h.p.In(toPull(pull), gpio.NoEdge)
}

func (h *pin) ConfigureOutput(initial bool) error {
	return h.p.Out(gpio.Level(initial))
}

func (h *pin) Set(level bool) { _ = h.p.Out(gpio.Level(level)) }
func (h *pin) Get() bool      { return bool(h.p.Read()) }
func (h *pin) Number() int    { return h.n }

// SetIRQ re-arms the pin for edge detection and pumps edges from a blocking
// WaitForEdge loop into the handler. The loop is the host-side stand-in for a
// real ISR; the handler contract is the same.
func (h *pin) SetIRQ(edge hal.Edge, handler func()) error {
	if err := h.p.In(gpio.PullDown, toEdge(edge)); err != nil {
		return errcode.Wrap(errcode.PinFailed, "hosthal.irq", err)
	}
	h.mu.Lock()
	if h.stop != nil {
		close(h.stop)
	}
	stop := make(chan struct{})
	h.stop = stop
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if h.p.WaitForEdge(-1) {
				handler()
			}
		}
	}()
	return nil
}

func (h *pin) ClearIRQ() error {
	h.mu.Lock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	h.mu.Unlock()
	return h.p.In(gpio.PullDown, gpio.NoEdge)
}

func toPull(p hal.Pull) gpio.Pull {
	switch p {
	case hal.PullUp:
		return gpio.PullUp
	case hal.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func toEdge(e hal.Edge) gpio.Edge {
	switch e {
	case hal.EdgeRising:
		return gpio.RisingEdge
	case hal.EdgeFalling:
		return gpio.FallingEdge
	case hal.EdgeBoth:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}

// ---- Die temperature ----

const thermalZone = "/sys/class/thermal/thermal_zone0/temp"

// Temp reads the SoC thermal zone (millidegrees) from sysfs.
type Temp struct{}

func (Temp) DieTemperature() (int, error) {
	raw, err := os.ReadFile(thermalZone)
	if err != nil {
		return 0, errcode.Wrap(errcode.Error, "hosthal.temp", err)
	}
	v, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return 0, errcode.Wrap(errcode.BadPayload, "hosthal.temp", err)
	}
	return v / 1000, nil
}

// ---- Storage ----

// Files persists blobs under dir. Writes go through a temp file and rename so
// a crash mid-write leaves the previous content intact.
type Files struct {
	Dir string
}

func (f Files) ReadFile(name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(f.Dir, name))
	if os.IsNotExist(err) {
		return nil, hal.ErrNotFound
	}
	if err != nil {
		return nil, errcode.Wrap(errcode.Storage, "hosthal.read", err)
	}
	return b, nil
}

func (f Files) WriteFile(name string, data []byte) error {
	path := filepath.Join(f.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errcode.Wrap(errcode.Storage, "hosthal.write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errcode.Wrap(errcode.Storage, "hosthal.write", err)
	}
	return nil
}
