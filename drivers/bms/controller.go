package bms

import (
	"context"
	"time"

	"powerbox-go/conf"
	"powerbox-go/hal"
	"powerbox-go/hal/uartio"
	"powerbox-go/logging"
	"powerbox-go/state"
)

const (
	statusTurnaround = 100 * time.Millisecond
	modifyTurnaround = 50 * time.Millisecond
	responseMax      = 512
)

type Config struct {
	Port hal.UARTPort
	Log  *logging.Logger

	// Cell thresholds in volts; refreshed from the profile on change.
	TurnOffMinVoltage float32
	TurnOffMaxVoltage float32

	// Restored accumulated self-consumption in Ah.
	SelfConsumptionAh float32

	// PersistSelfConsumption is called off the hot path with the new total.
	// The bootstrap wires it through the instruction queue into the profile.
	PersistSelfConsumption func(ah float32)

	State state.Config
}

// Controller owns the BMS serial dialogue and the derived protection events.
type Controller struct {
	cfg   Config
	port  hal.UARTPort
	log   *logging.Logger
	state *State

	minVoltage float32
	maxVoltage float32

	minConfirmations int
	maxConfirmations int
	minFired         bool
	maxFired         bool

	powerTicks int

	buf [responseMax]byte
}

func New(cfg Config) *Controller {
	c := &Controller{
		cfg:        cfg,
		port:       cfg.Port,
		log:        cfg.Log,
		state:      NewState(cfg.Log, cfg.State),
		minVoltage: cfg.TurnOffMinVoltage,
		maxVoltage: cfg.TurnOffMaxVoltage,
	}
	if c.minVoltage == 0 {
		c.minVoltage = conf.InverterMinCellVoltage
	}
	if c.maxVoltage == 0 {
		c.maxVoltage = conf.PSUMaxCellVoltage
	}
	c.state.setSelfConsumption(cfg.SelfConsumptionAh)
	_ = c.port.Configure(hal.UARTConfig{Baud: conf.BMSBaudRate})
	return c
}

func (c *Controller) State() *State { return c.state }

// SetThresholds updates the cell cutoff voltages (profile change hook).
func (c *Controller) SetThresholds(min, max float32) {
	if min > 0 {
		c.minVoltage = min
	}
	if max > 0 {
		c.maxVoltage = max
	}
}

// Run is the BMS task: one status exchange, threshold checks, accounting and
// a snapshot per period.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("running BMS controller")
	c.RequestStatus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.RequestStatus()
		c.accountSelfConsumption()
		c.state.Snapshot()
		c.state.Sleep()
	}
}

// RequestStatus performs one status exchange. An empty reply raises
// NO_RESPONSE; a parse failure wipes the state and raises NO_RESPONSE.
func (c *Controller) RequestStatus() bool {
	n, err := uartio.Query(c.port, statusRequest, statusTurnaround, c.buf[:])
	if err != nil || n == 0 {
		c.state.Clear()
		c.state.SetError(state.BitNoResponse)
		return false
	}
	if err := c.state.Parse(c.buf[:n]); err != nil {
		c.log.Error("BMS parse failed:", err, c.buf[:n])
		c.state.Clear()
		c.state.SetError(state.BitNoResponse)
		return false
	}
	c.state.ResetError(state.BitNoResponse)
	c.checkCellThresholds()
	c.log.Debug("BMS voltage", c.state.Voltage().Or(0), "power", c.state.Power())
	return true
}

// checkCellThresholds debounces cutoff crossings: three consecutive
// exceedances fire the event once, then latch until the condition clears.
func (c *Controller) checkCellThresholds() {
	cells := c.state.Cells()
	anyBelow, anyAbove := false, false
	for _, cell := range cells {
		mv, ok := cell.Get()
		if !ok || mv == 0 {
			continue
		}
		v := float32(mv) / 1000
		if v < c.minVoltage {
			anyBelow = true
		}
		if v > c.maxVoltage {
			anyAbove = true
		}
	}

	if anyBelow {
		c.minConfirmations++
		if c.minConfirmations >= conf.TurnOffMaxConfirmations && !c.minFired {
			c.minFired = true
			c.log.Warning("cell under-voltage confirmed, battery discharged")
			c.state.Trigger(state.EventBatteryDischarged)
		}
	} else {
		c.minConfirmations = 0
		c.minFired = false
	}

	if anyAbove {
		c.maxConfirmations++
		if c.maxConfirmations >= conf.TurnOffMaxConfirmations && !c.maxFired {
			c.maxFired = true
			c.log.Info("cell over-voltage confirmed, battery charged")
			// The pack is known-full: restart the idle-draw ledger.
			c.resetSelfConsumption()
			c.state.Trigger(state.EventBatteryCharged)
		}
	} else {
		c.maxConfirmations = 0
		c.maxFired = false
	}
}

// accountSelfConsumption accumulates the idle draw the shunt cannot see.
// During discharge the shunt already includes the controller, so nothing is
// added.
func (c *Controller) accountSelfConsumption() {
	c.powerTicks++
	if c.powerTicks < conf.MCUPowerFrequency {
		return
	}
	c.powerTicks = 0

	if c.state.Discharging() {
		return
	}
	amps := conf.MCUPower + conf.USBPower
	if !c.state.HasError(state.BitNoResponse) {
		amps += conf.BMSPower
	}
	elapsed := time.Duration(conf.MCUPowerFrequency) * c.state.StatePeriod()
	ah := c.state.SelfConsumption() + amps*float32(elapsed.Hours())
	c.state.setSelfConsumption(ah)
	if c.cfg.PersistSelfConsumption != nil {
		c.cfg.PersistSelfConsumption(ah)
	}
}

func (c *Controller) resetSelfConsumption() {
	c.state.setSelfConsumption(0)
	if c.cfg.PersistSelfConsumption != nil {
		c.cfg.PersistSelfConsumption(0)
	}
}

// ---- Modify commands (charge/discharge switches) ----

// EnableCharge closes the charge MOS. Success is any non-empty reply.
func (c *Controller) EnableCharge() bool {
	return c.modify("enable charge", enableCharge)
}

func (c *Controller) DisableCharge() bool {
	return c.modify("disable charge", disableCharge)
}

func (c *Controller) EnableDischarge() bool {
	return c.modify("enable discharge", enableDischarge)
}

func (c *Controller) DisableDischarge() bool {
	return c.modify("disable discharge", disableDischarge)
}

func (c *Controller) modify(what string, frame []byte) bool {
	n, err := uartio.Query(c.port, frame, modifyTurnaround, c.buf[:])
	if err != nil || n == 0 {
		c.log.Error("BMS", what, "failed")
		c.state.SetError(state.BitNoResponse)
		return false
	}
	c.log.Info("BMS", what, "ok")
	c.state.ResetError(state.BitNoResponse)
	return true
}
