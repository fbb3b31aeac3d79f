// Package ats monitors the automatic transfer switch through two edge-
// triggered inputs and derives the active power source.
package ats

import (
	"context"
	"sync"

	"powerbox-go/hal"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// Mode is the detected transfer position.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeGrid
	ModeBattery
)

func (m Mode) String() string {
	switch m {
	case ModeGrid:
		return "grid"
	case ModeBattery:
		return "battery"
	default:
		return "none"
	}
}

type State struct {
	*state.Base

	mu   sync.Mutex
	mode Mode
}

func NewState(log *logging.Logger, cfg state.Config) *State {
	s := &State{}
	cfg.Name = "ATS"
	cfg.Log = log
	cfg.Wire = s.wireState
	s.Base = state.NewBase(cfg)
	return s
}

func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// setMode updates and notifies only on an actual transition.
func (s *State) setMode(m Mode) bool {
	s.mu.Lock()
	if s.mode == m {
		s.mu.Unlock()
		return false
	}
	s.mode = m
	s.mu.Unlock()
	s.Notify()
	return true
}

func (s *State) wireState() []byte {
	return []byte{
		byte(s.Mode()) + 1,
		byte(s.InternalErrors() + 1),
	}
}

type Config struct {
	NCPin hal.IRQPin
	NOPin hal.IRQPin
	Log   *logging.Logger
	State state.Config
}

// Controller owns the two sense inputs. The mode itself is interrupt-driven;
// the task only emits health snapshots.
type Controller struct {
	log   *logging.Logger
	state *State
	nc    hal.IRQPin
	no    hal.IRQPin

	mu      sync.Mutex
	enabled bool
}

func New(cfg Config) *Controller {
	c := &Controller{
		log:   cfg.Log,
		state: NewState(cfg.Log, cfg.State),
		nc:    cfg.NCPin,
		no:    cfg.NOPin,
	}
	if err := c.nc.ConfigureInput(hal.PullDown); err != nil {
		c.state.SetError(state.BitPin)
	}
	if err := c.no.ConfigureInput(hal.PullDown); err != nil {
		c.state.SetError(state.BitPin)
	}
	return c
}

func (c *Controller) State() *State { return c.state }

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Enable arms the rising-edge interrupts on both sense pins.
func (c *Controller) Enable() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.mu.Unlock()

	if err := c.nc.SetIRQ(hal.EdgeRising, c.checkState); err != nil {
		c.state.Fail(err)
		return
	}
	if err := c.no.SetIRQ(hal.EdgeRising, c.checkState); err != nil {
		c.state.Fail(err)
		return
	}
	c.state.On()
	c.checkState()
	c.log.Info("ATS monitor enabled")
}

func (c *Controller) Disable() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	c.mu.Unlock()

	_ = c.nc.ClearIRQ()
	_ = c.no.ClearIRQ()
	c.state.Off()
	c.log.Info("ATS monitor disabled")
}

// SetEnabled applies the profile's ATS flag.
func (c *Controller) SetEnabled(on bool) {
	if on {
		c.Enable()
	} else {
		c.Disable()
	}
}

// checkState runs on either pin's rising edge and disambiguates by reading
// both levels.
func (c *Controller) checkState() {
	ncLevel := c.nc.Get()
	noLevel := c.no.Get()

	mode := ModeNone
	switch {
	case ncLevel && !noLevel:
		mode = ModeGrid
	case !ncLevel && noLevel:
		mode = ModeBattery
	}

	if c.state.setMode(mode) {
		c.log.Info("ATS mode changed to", mode.String())
	}
}

// Run emits periodic health snapshots; edges do the real work.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("running ATS controller")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.state.Snapshot()
		c.state.Sleep()
	}
}
