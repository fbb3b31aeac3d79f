package hosthal

import (
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"powerbox-go/errcode"
	"powerbox-go/hal"
)

// readTimeout keeps Read close to non-blocking: it returns whatever the OS
// buffer holds, or nothing after one tick.
const readTimeout = 5 * time.Millisecond

// Ports maps logical UART ids to serial device names.
type Ports struct {
	Devices map[string]string // e.g. "uart1" -> "/dev/ttyUSB0"

	mu    sync.Mutex
	ports map[string]*port
}

func NewPorts(devices map[string]string) *Ports {
	return &Ports{Devices: devices, ports: map[string]*port{}}
}

func (f *Ports) Port(id string) (hal.UARTPort, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.ports[id]; ok {
		return p, true
	}
	dev, ok := f.Devices[id]
	if !ok {
		return nil, false
	}
	p := &port{dev: dev}
	f.ports[id] = p
	return p, true
}

type port struct {
	dev string

	mu sync.Mutex
	sp *serial.Port
}

// Configure (re)opens the device at the requested baud rate. The inverter and
// PSU share one physical link and reconfigure it on takeover.
func (p *port) Configure(cfg hal.UARTConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sp != nil {
		_ = p.sp.Close()
		p.sp = nil
	}
	sp, err := serial.OpenPort(&serial.Config{
		Name:        p.dev,
		Baud:        int(cfg.Baud),
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return errcode.Wrap(errcode.PortFailed, "hosthal.configure", err)
	}
	p.sp = sp
	return nil
}

func (p *port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sp == nil {
		return 0, errcode.PortFailed
	}
	return p.sp.Write(b)
}

func (p *port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sp == nil {
		return 0, errcode.PortFailed
	}
	n, err := p.sp.Read(b)
	if err == io.EOF {
		// Timeout with no data; not an error for a sampling read.
		return n, nil
	}
	return n, err
}

func (p *port) Buffered() int { return 0 }

func (p *port) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sp != nil {
		_ = p.sp.Flush()
	}
}
