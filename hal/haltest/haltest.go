// Package haltest provides in-memory fakes of the hal interfaces for driver
// and integration tests.
package haltest

import (
	"sync"

	"powerbox-go/hal"
)

// FakePort is a scripted UART port. Writes are recorded; reads consume the
// queued replies one slice per Read call, mimicking chunked arrival.
type FakePort struct {
	mu      sync.Mutex
	Writes  [][]byte
	replies [][]byte
	Baud    uint32
	Flushes int
}

func NewFakePort() *FakePort { return &FakePort{} }

// QueueReply schedules bytes to be returned by subsequent Read calls.
func (f *FakePort) QueueReply(p []byte) {
	f.mu.Lock()
	f.replies = append(f.replies, append([]byte(nil), p...))
	f.mu.Unlock()
}

func (f *FakePort) Configure(cfg hal.UARTConfig) error {
	f.mu.Lock()
	f.Baud = cfg.Baud
	f.mu.Unlock()
	return nil
}

func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.Writes = append(f.Writes, append([]byte(nil), p...))
	f.mu.Unlock()
	return len(p), nil
}

func (f *FakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return 0, nil
	}
	head := f.replies[0]
	n := copy(p, head)
	if n == len(head) {
		f.replies = f.replies[1:]
	} else {
		f.replies[0] = head[n:]
	}
	return n, nil
}

func (f *FakePort) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, r := range f.replies {
		total += len(r)
	}
	return total
}

// Flush only counts invocations: queued replies model the device's future
// answer, which a pre-request drain must not eat.
func (f *FakePort) Flush() {
	f.mu.Lock()
	f.Flushes++
	f.mu.Unlock()
}

// WriteCount returns how many Write calls the port has seen.
func (f *FakePort) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// WritesSnapshot returns a copy of all frames written so far.
func (f *FakePort) WritesSnapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.Writes))
	for i, w := range f.Writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// LastWrite returns the most recent frame written, or nil.
func (f *FakePort) LastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes) == 0 {
		return nil
	}
	return f.Writes[len(f.Writes)-1]
}

// FakePorts is a PortFactory handing out FakePort instances by id.
type FakePorts struct {
	mu    sync.Mutex
	ports map[string]*FakePort
}

func NewFakePorts() *FakePorts { return &FakePorts{ports: map[string]*FakePort{}} }

func (f *FakePorts) Port(id string) (hal.UARTPort, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.ports[id]; ok {
		return p, true
	}
	p := NewFakePort()
	f.ports[id] = p
	return p, true
}

// GetPort returns the fake port for assertions, creating it if needed.
func (f *FakePorts) GetPort(id string) *FakePort {
	p, _ := f.Port(id)
	return p.(*FakePort)
}

// ---- Pins ----

// FakePin implements hal.IRQPin with a settable level and a capturable IRQ
// handler. Fire simulates a hardware edge.
type FakePin struct {
	mu      sync.Mutex
	n       int
	level   bool
	pull    hal.Pull
	edge    hal.Edge
	handler func()
	IsInput bool
	FailIRQ bool
}

func NewFakePin(n int) *FakePin { return &FakePin{n: n} }

func (f *FakePin) ConfigureInput(pull hal.Pull) error {
	f.mu.Lock()
	f.pull = pull
	f.IsInput = true
	f.mu.Unlock()
	return nil
}

func (f *FakePin) ConfigureOutput(initial bool) error {
	f.mu.Lock()
	f.level = initial
	f.IsInput = false
	f.mu.Unlock()
	return nil
}

func (f *FakePin) Set(level bool) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (f *FakePin) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *FakePin) Number() int { return f.n }

func (f *FakePin) SetIRQ(edge hal.Edge, handler func()) error {
	if f.FailIRQ {
		return errFakeIRQ
	}
	f.mu.Lock()
	f.edge = edge
	f.handler = handler
	f.mu.Unlock()
	return nil
}

func (f *FakePin) ClearIRQ() error {
	f.mu.Lock()
	f.handler = nil
	f.edge = hal.EdgeNone
	f.mu.Unlock()
	return nil
}

// Fire drives the pin to level and invokes the IRQ handler as hardware would.
func (f *FakePin) Fire(level bool) {
	f.mu.Lock()
	prev := f.level
	f.level = level
	h := f.handler
	edge := f.edge
	f.mu.Unlock()
	if h == nil || prev == level {
		return
	}
	rising := level
	switch edge {
	case hal.EdgeBoth:
		h()
	case hal.EdgeRising:
		if rising {
			h()
		}
	case hal.EdgeFalling:
		if !rising {
			h()
		}
	}
}

type fakeIRQError struct{}

func (fakeIRQError) Error() string { return "haltest: irq unavailable" }

var errFakeIRQ = fakeIRQError{}

// FakePins is a PinFactory handing out FakePin instances by number.
type FakePins struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func NewFakePins() *FakePins { return &FakePins{pins: map[int]*FakePin{}} }

func (f *FakePins) Pin(n int) (hal.IRQPin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pins[n]; ok {
		return p, nil
	}
	p := NewFakePin(n)
	f.pins[n] = p
	return p, nil
}

// Get returns the fake pin for assertions, creating it if needed.
func (f *FakePins) Get(n int) *FakePin {
	p, _ := f.Pin(n)
	return p.(*FakePin)
}

// ---- Storage ----

// MemStorage is an in-memory hal.Storage.
type MemStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemStorage() *MemStorage { return &MemStorage{files: map[string][]byte{}} }

func (m *MemStorage) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	if !ok {
		return nil, hal.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemStorage) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	m.files[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

