// Package display binds supervised states to the screen widget tree. The
// widget tree itself (LVGL) is out of scope; it is consumed through the
// Screen interface as a sink of state callbacks.
package display

import (
	"context"
	"strconv"

	"powerbox-go/drivers/ats"
	"powerbox-go/drivers/bms"
	"powerbox-go/drivers/inverter"
	"powerbox-go/drivers/mcu"
	"powerbox-go/drivers/psu"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// Slot is a column on the status strip.
type Slot uint8

const (
	SlotPSU Slot = iota
	SlotBMS
	SlotInverter
	SlotATS
	SlotMCU
	SlotBLE
)

// Device prefixes for user-visible error codes.
const (
	prefixBMS      = 1
	prefixPSU      = 2
	prefixInverter = 3
	prefixMCU      = 4
)

// Screen is the widget-tree sink. The active screen shows live metrics; the
// idle screen is what the display sleeps to.
type Screen interface {
	SetVersion(version string)
	SetMetric(slot Slot, glyph string, value string, unit string)
	SetError(slot Slot, code string)
	ShowPSUState(on bool)
	ShowInverterState(on bool)
}

type Config struct {
	Screen Screen
	Log    *logging.Logger
	State  state.Config
}

// Controller subscribes to state changes and repaints the affected slots.
// Rotating metrics alternate on each snapshot like the firmware's strip.
type Controller struct {
	screen Screen
	log    *logging.Logger
	state  *state.Base

	bmsMetric int
	mcuMetric int
	invMetric int
}

func New(cfg Config) *Controller {
	st := cfg.State
	st.Name = "DISPLAY"
	st.Log = cfg.Log
	return &Controller{
		screen: cfg.Screen,
		log:    cfg.Log,
		state:  state.NewBase(st),
	}
}

func (c *Controller) State() *state.Base { return c.state }

// ---- State-change subscribers, registered by the bootstrap ----

func (c *Controller) OnBMSState(s *bms.State) func() {
	return func() {
		metrics := [...]string{"soc", "power"}
		metric := metrics[c.bmsMetric%len(metrics)]
		c.bmsMetric++
		switch metric {
		case "soc":
			c.screen.SetMetric(SlotBMS, "battery", optString(s.SOC()), "%")
		case "power":
			c.screen.SetMetric(SlotBMS, "battery", strconv.Itoa(s.Power()), "w")
		}
		c.screen.SetError(SlotBMS, errorCode(prefixBMS, s.InternalErrors()))
	}
}

func (c *Controller) OnPSUState(s *psu.State) func() {
	return func() {
		glyph := "off"
		if s.Active() {
			glyph = "on"
		}
		c.screen.SetMetric(SlotPSU, glyph, optString(s.Temperature()), "c")
		c.screen.SetError(SlotPSU, errorCode(prefixPSU, s.InternalErrors()))
	}
}

func (c *Controller) OnInverterState(s *inverter.State) func() {
	return func() {
		metrics := [...]string{"temperature", "power"}
		metric := metrics[c.invMetric%len(metrics)]
		c.invMetric++
		switch metric {
		case "temperature":
			c.screen.SetMetric(SlotInverter, "inv", optString(s.Temperature()), "c")
		case "power":
			c.screen.SetMetric(SlotInverter, "inv", optString(s.Power()), "w")
		}
		c.screen.SetError(SlotInverter, errorCode(prefixInverter, s.InternalErrors()))
	}
}

func (c *Controller) OnATSState(s *ats.State) func() {
	return func() {
		glyph := "ongrid"
		if s.Mode() == ats.ModeBattery {
			glyph = "offgrid"
		}
		c.screen.SetMetric(SlotATS, glyph, "", "")
	}
}

func (c *Controller) OnMCUState(s *mcu.State) func() {
	return func() {
		metrics := [...]string{"temperature", "memory"}
		metric := metrics[c.mcuMetric%len(metrics)]
		c.mcuMetric++
		glyph := ""
		if s.Heartbeat() {
			glyph = "heart"
		}
		switch metric {
		case "temperature":
			c.screen.SetMetric(SlotMCU, glyph, optString(s.Temperature()), "c")
		case "memory":
			c.screen.SetMetric(SlotMCU, glyph, optString(s.Memory()), "%")
		}
		c.screen.SetError(SlotMCU, errorCode(prefixMCU, s.InternalErrors()))
	}
}

func (c *Controller) OnBLEState(b *state.Base) func() {
	return func() {
		glyph := "ble-client-off"
		if b.Active() {
			glyph = "ble-client-on"
		}
		c.screen.SetMetric(SlotBLE, glyph, "", "")
	}
}

// ShowPSU and ShowInverter drive the power-path widgets from ON/OFF events.
func (c *Controller) ShowPSU(on bool) func() {
	return func() { c.screen.ShowPSUState(on) }
}

func (c *Controller) ShowInverter(on bool) func() {
	return func() { c.screen.ShowInverterState(on) }
}

// Run keeps the display binding supervised like any other component.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("running display controller")
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

// errorCode renders the lowest set error bit as a device-prefixed two-digit
// string: BMS bit 2 -> "102".
func errorCode(prefix int, errs uint16) string {
	if errs == 0 {
		return ""
	}
	bit := 0
	for errs&1 == 0 {
		errs >>= 1
		bit++
	}
	code := prefix*100 + bit
	return strconv.Itoa(code)
}

func optString(v state.Opt[int]) string {
	x, ok := v.Get()
	if !ok {
		return "--"
	}
	return strconv.Itoa(x)
}
