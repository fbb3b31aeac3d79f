// Package uartio implements the bounded request/response and sampling
// primitives the protocol clients share. All waits are wall-clock deadlines;
// nothing here blocks past its window.
package uartio

import (
	"time"

	"powerbox-go/errcode"
	"powerbox-go/hal"
)

// pollTick is how often a window re-checks the port for new bytes.
const pollTick = 10 * time.Millisecond

// Query writes req, waits for the device to turn the line around, then drains
// whatever arrived into buf. The reply may be empty; that is the caller's
// NO_RESPONSE signal, not an I/O error.
func Query(p hal.UARTPort, req []byte, wait time.Duration, buf []byte) (int, error) {
	p.Flush()
	if _, err := p.Write(req); err != nil {
		return 0, errcode.Wrap(errcode.PortFailed, "uartio.query", err)
	}
	time.Sleep(wait)
	return drain(p, buf)
}

// Sample reads bytes arriving within the window into buf and returns the
// count. It returns early once buf is full.
func Sample(p hal.UARTPort, buf []byte, window time.Duration) (int, error) {
	deadline := time.Now().Add(window)
	n := 0
	for n < len(buf) {
		m, err := p.Read(buf[n:])
		if err != nil {
			return n, errcode.Wrap(errcode.PortFailed, "uartio.sample", err)
		}
		n += m
		if !time.Now().Before(deadline) {
			break
		}
		if m == 0 {
			time.Sleep(pollTick)
		}
	}
	return n, nil
}

// drain empties the port's receive side into buf without waiting for more.
func drain(p hal.UARTPort, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := p.Read(buf[n:])
		if err != nil {
			return n, errcode.Wrap(errcode.PortFailed, "uartio.drain", err)
		}
		if m == 0 {
			break
		}
		n += m
	}
	return n, nil
}
