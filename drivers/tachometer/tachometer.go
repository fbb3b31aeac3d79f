// Package tachometer measures fan RPM by counting edges over a fixed window.
// The IRQ handler only increments a counter.
package tachometer

import (
	"sync/atomic"
	"time"

	"powerbox-go/errcode"
	"powerbox-go/hal"
)

type Tachometer struct {
	pin    hal.IRQPin
	window time.Duration
	ppr    int

	edges atomic.Uint32
}

func New(pin hal.IRQPin, window time.Duration, pulsesPerRev int) (*Tachometer, error) {
	if pulsesPerRev <= 0 {
		pulsesPerRev = 2
	}
	t := &Tachometer{pin: pin, window: window, ppr: pulsesPerRev}
	if err := pin.ConfigureInput(hal.PullDown); err != nil {
		return nil, errcode.Wrap(errcode.PinFailed, "tachometer.configure", err)
	}
	return t, nil
}

// Measure counts edges for one window and returns the fan speed in RPM.
// It blocks for the window duration and no longer.
func (t *Tachometer) Measure() (int, error) {
	t.edges.Store(0)
	if err := t.pin.SetIRQ(hal.EdgeRising, t.onEdge); err != nil {
		return 0, errcode.Wrap(errcode.PinFailed, "tachometer.irq", err)
	}
	time.Sleep(t.window)
	_ = t.pin.ClearIRQ()

	edges := int(t.edges.Load())
	perSecond := edges * int(time.Second) / int(t.window)
	return 60 * 2 * perSecond / t.ppr, nil
}

func (t *Tachometer) onEdge() { t.edges.Add(1) }
