// Package state implements the supervised state model every peripheral
// shares: the error bitmap, snapshot heartbeat, callback fan-out and the
// binding to telemetry history and the wireless transport.
package state

import (
	"sync"
	"time"

	"powerbox-go/history"
	"powerbox-go/logging"
)

// Event identifies a callback slot.
type Event uint8

const (
	EventOn Event = iota
	EventOff
	EventChange

	// Domain events raised by the BMS threshold engine.
	EventBatteryCharged
	EventBatteryDischarged
)

// Internal error bits, shared by every peripheral. Component-specific bits
// start above BitPin.
const (
	BitTimeout     = 0 // loop has not ticked within its period + grace
	BitException   = 1 // an exception was caught in the loop
	BitNoResponse  = 2 // peripheral did not answer a request
	BitBadResponse = 3 // checksum or framing failed
	BitExternal    = 4 // peripheral reported a non-zero error word
	BitPin         = 6 // pin initialization failed
)

// Sink is the wireless transport binding for one peripheral: state payloads
// go to its state characteristic, history frames to the shared history one.
type Sink interface {
	NotifyState(payload []byte)
	NotifyHistory(payload []byte)
}

// Config sets the fixed parts of a supervised state.
type Config struct {
	Name          string
	Log           *logging.Logger
	StatePeriod   time.Duration
	HistoryPeriod time.Duration
	HealthGrace   time.Duration

	// Wire returns the packed state payload for the transport. Optional.
	Wire func() []byte

	// BuildHistory pushes the current values onto the history rings. Optional.
	BuildHistory func()

	// ChunkPacing spaces full history dumps on the transport.
	ChunkPacing time.Duration
}

// Base is the supervised state. Concrete peripheral states embed a *Base and
// keep their own typed fields; the owning controller is the only mutator.
type Base struct {
	mu sync.Mutex

	name string
	log  *logging.Logger

	active         bool
	internalErrors uint16
	externalErrors uint16
	lastException  error

	stateModifiedAt   time.Time
	historyModifiedAt time.Time

	statePeriod   time.Duration
	historyPeriod time.Duration
	grace         time.Duration
	pacing        time.Duration

	rings map[uint8]*history.Ring

	callbacks map[Event][]func()

	sink         Sink
	wire         func() []byte
	buildHistory func()
}

func NewBase(cfg Config) *Base {
	if cfg.StatePeriod <= 0 {
		cfg.StatePeriod = time.Second
	}
	if cfg.HistoryPeriod <= 0 {
		cfg.HistoryPeriod = cfg.StatePeriod
	}
	if cfg.HealthGrace <= 0 {
		cfg.HealthGrace = 5 * time.Second
	}
	return &Base{
		name:          cfg.Name,
		log:           cfg.Log,
		statePeriod:   cfg.StatePeriod,
		historyPeriod: cfg.HistoryPeriod,
		grace:         cfg.HealthGrace,
		pacing:        cfg.ChunkPacing,
		rings:         map[uint8]*history.Ring{},
		callbacks:     map[Event][]func(){},
		wire:          cfg.Wire,
		buildHistory:  cfg.BuildHistory,
	}
}

func (b *Base) Name() string { return b.name }

// AddRing attaches a history ring for a metric.
func (b *Base) AddRing(chart uint8, r *history.Ring) {
	b.mu.Lock()
	b.rings[chart] = r
	b.mu.Unlock()
}

// Ring returns the history ring for a metric, or nil.
func (b *Base) Ring(chart uint8) *history.Ring {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rings[chart]
}

func (b *Base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// On marks the peripheral engaged and fires ON then CHANGE.
func (b *Base) On() {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
	b.Trigger(EventOn)
	b.Notify()
}

// Off marks the peripheral disengaged and fires OFF then CHANGE.
func (b *Base) Off() {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
	b.Trigger(EventOff)
	b.Notify()
}

func (b *Base) InternalErrors() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.internalErrors
}

func (b *Base) ExternalErrors() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.externalErrors
}

// SetError turns a bit on. Idempotent: CHANGE fires only on a transition.
func (b *Base) SetError(bit uint8) {
	b.mu.Lock()
	mask := uint16(1) << bit
	if b.internalErrors&mask != 0 {
		b.mu.Unlock()
		return
	}
	b.internalErrors |= mask
	b.mu.Unlock()
	b.Notify()
}

// ResetError turns a bit off. Idempotent.
func (b *Base) ResetError(bit uint8) {
	b.mu.Lock()
	mask := uint16(1) << bit
	if b.internalErrors&mask == 0 {
		b.mu.Unlock()
		return
	}
	b.internalErrors &^= mask
	b.mu.Unlock()
	b.Notify()
}

// HasError reports whether a bit is set.
func (b *Base) HasError(bit uint8) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.internalErrors&(uint16(1)<<bit) != 0
}

// ClearInternalErrors wipes the bitmap, notifying if it was non-zero.
func (b *Base) ClearInternalErrors() {
	b.mu.Lock()
	wasSet := b.internalErrors != 0
	b.internalErrors = 0
	b.mu.Unlock()
	if wasSet {
		b.Notify()
	}
}

// SetExternalErrors records the device error word and maintains the EXTERNAL
// bit accordingly.
func (b *Base) SetExternalErrors(word uint16) {
	b.mu.Lock()
	b.externalErrors = word
	b.mu.Unlock()
	if word != 0 {
		b.SetError(BitExternal)
	} else {
		b.ResetError(BitExternal)
	}
}

// Fail records an exception: sets the EXCEPTION bit and retains the cause.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	b.lastException = err
	b.mu.Unlock()
	if b.log != nil && err != nil {
		b.log.Critical(b.name, err)
	}
	b.SetError(BitException)
}

// LastException returns the retained cause of the EXCEPTION bit.
func (b *Base) LastException() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastException
}

// AddCallback subscribes fn to ev. Registration happens at boot; dispatch is
// synchronous and in registration order.
func (b *Base) AddCallback(ev Event, fn func()) {
	b.mu.Lock()
	b.callbacks[ev] = append(b.callbacks[ev], fn)
	b.mu.Unlock()
}

// Trigger runs the subscribers for ev synchronously, in order.
func (b *Base) Trigger(ev Event) {
	b.mu.Lock()
	subs := b.callbacks[ev]
	b.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// AttachSink binds the state to its transport characteristic.
func (b *Base) AttachSink(s Sink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
}

// Notify pushes the packed state to the transport (if attached) and invokes
// the CHANGE subscribers.
func (b *Base) Notify() {
	b.mu.Lock()
	sink, wire := b.sink, b.wire
	b.mu.Unlock()
	if sink != nil && wire != nil {
		sink.NotifyState(wire())
	}
	b.Trigger(EventChange)
}

// WireState returns the packed state payload, or nil when the state has no
// wire representation. Used by the transport's read-on-request path.
func (b *Base) WireState() []byte {
	b.mu.Lock()
	wire := b.wire
	b.mu.Unlock()
	if wire == nil {
		return nil
	}
	return wire()
}

// Snapshot is called once per loop iteration: health check against the
// previous tick, history build at its own cadence, then notification.
func (b *Base) Snapshot() {
	now := time.Now()

	b.mu.Lock()
	last := b.stateModifiedAt
	b.stateModifiedAt = now
	stale := !last.IsZero() && now.Sub(last) > b.statePeriod+b.grace
	buildDue := b.buildHistory != nil && now.Sub(b.historyModifiedAt) >= b.historyPeriod
	if buildDue {
		b.historyModifiedAt = now
	}
	b.mu.Unlock()

	if stale {
		b.SetError(BitTimeout)
	} else {
		b.ResetError(BitTimeout)
	}

	if buildDue {
		b.buildHistory()
		b.notifyHistoryUpdate()
	}

	b.Notify()
}

// Sleep suspends the calling task for one state period.
func (b *Base) Sleep() { time.Sleep(b.statePeriod) }

// StatePeriod returns the loop cadence.
func (b *Base) StatePeriod() time.Duration { return b.statePeriod }

func (b *Base) notifyHistoryUpdate() {
	b.mu.Lock()
	sink := b.sink
	rings := make([]*history.Ring, 0, len(b.rings))
	for _, r := range b.rings {
		rings = append(rings, r)
	}
	b.mu.Unlock()
	if sink == nil {
		return
	}
	for _, r := range rings {
		if upd := r.Update(); upd != nil {
			sink.NotifyHistory(upd)
		}
	}
}

// PullHistory emits a full chunked dump of every ring, paced so the transport
// queue is not swamped. Chunks of one metric are contiguous and in order.
func (b *Base) PullHistory() {
	b.mu.Lock()
	sink := b.sink
	rings := make([]*history.Ring, 0, len(b.rings))
	for _, r := range b.rings {
		rings = append(rings, r)
	}
	pacing := b.pacing
	b.mu.Unlock()
	if sink == nil {
		return
	}
	for _, r := range rings {
		for _, chunk := range r.Chunks(history.DefaultMTU) {
			sink.NotifyHistory(chunk)
			if pacing > 0 {
				time.Sleep(pacing)
			}
		}
	}
}
