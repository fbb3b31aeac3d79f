// Package button turns a momentary push button into debounced short/long
// press callbacks. The IRQ handler only stamps a timestamp and arms a
// one-shot timer; the hold watcher runs outside the interrupt world.
package button

import (
	"sync/atomic"
	"time"

	"powerbox-go/errcode"
	"powerbox-go/hal"
	"powerbox-go/logging"
	"powerbox-go/x/timex"
)

type Config struct {
	Pin hal.IRQPin

	// Jitter suppresses contact bounce between edges.
	Jitter time.Duration
	// Delay confirms the press after the first edge.
	Delay time.Duration
	// LongPress is the hold time separating long from short.
	LongPress time.Duration

	// OnShort and OnLong fire on the watcher goroutine; wire them through the
	// instruction queue, never directly into component state.
	OnShort func()
	OnLong  func()

	Log *logging.Logger
}

type Button struct {
	cfg      Config
	lastEdge atomic.Int64 // unix millis of the last accepted edge
}

const holdPoll = 25 * time.Millisecond

func New(cfg Config) (*Button, error) {
	b := &Button{cfg: cfg}
	if err := cfg.Pin.ConfigureInput(hal.PullDown); err != nil {
		return nil, errcode.Wrap(errcode.PinFailed, "button.configure", err)
	}
	if err := cfg.Pin.SetIRQ(hal.EdgeRising, b.onEdge); err != nil {
		return nil, errcode.Wrap(errcode.PinFailed, "button.irq", err)
	}
	return b, nil
}

func (b *Button) Close() {
	_ = b.cfg.Pin.ClearIRQ()
}

// onEdge runs in interrupt context: jitter gate, then defer the real work.
func (b *Button) onEdge() {
	now := timex.NowMs()
	last := b.lastEdge.Load()
	if now-last < b.cfg.Jitter.Milliseconds() {
		return
	}
	if !b.lastEdge.CompareAndSwap(last, now) {
		return
	}
	time.AfterFunc(b.cfg.Delay, b.confirm)
}

// confirm runs on a timer goroutine after the debounce delay.
func (b *Button) confirm() {
	if !b.cfg.Pin.Get() {
		return // released before the delay elapsed: bounce, not a press
	}
	go b.watchHold()
}

// watchHold polls until release or the long-press threshold.
func (b *Button) watchHold() {
	deadline := time.Now().Add(b.cfg.LongPress - b.cfg.Delay)
	for time.Now().Before(deadline) {
		if !b.cfg.Pin.Get() {
			if b.cfg.OnShort != nil {
				b.cfg.OnShort()
			}
			return
		}
		time.Sleep(holdPoll)
	}
	if b.cfg.OnLong != nil {
		b.cfg.OnLong()
	}
}
