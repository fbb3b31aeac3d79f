package psu

import (
	"context"

	"powerbox-go/conf"
	"powerbox-go/drivers/bms"
	"powerbox-go/drivers/tachometer"
	"powerbox-go/hal"
	"powerbox-go/hal/uartio"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// Current channels select the CD4051B multiplexer input: 3 = 100% (turbo),
// 2 = 75%, down to 0.
const (
	ChannelTurbo  = 3
	ChannelNormal = 2
)

type Config struct {
	Port        hal.UARTPort
	GatePin     hal.IRQPin
	CurrentAPin hal.IRQPin
	CurrentBPin hal.IRQPin
	FanPin      hal.IRQPin
	Log         *logging.Logger
	State       state.Config

	// ReduceCurrentVoltage steps the channel down while charging near full.
	ReduceCurrentVoltage float32

	// Restored settings.
	Turbo          bool
	CurrentChannel int

	// PersistTurbo stores the turbo flag; wired through the instruction
	// queue into the profile.
	PersistTurbo func(on bool)
}

// Controller owns the charger power path and the RX-only frame stream.
type Controller struct {
	log   *logging.Logger
	port  hal.UARTPort
	state *State

	gate     hal.IRQPin
	currentA hal.IRQPin
	currentB hal.IRQPin
	fan      *tachometer.Tachometer

	reduceVoltage float32
	persistTurbo  func(bool)

	buf [256]byte
}

func New(cfg Config) *Controller {
	c := &Controller{
		log:           cfg.Log,
		port:          cfg.Port,
		state:         NewState(cfg.Log, cfg.State),
		gate:          cfg.GatePin,
		currentA:      cfg.CurrentAPin,
		currentB:      cfg.CurrentBPin,
		reduceVoltage: cfg.ReduceCurrentVoltage,
		persistTurbo:  cfg.PersistTurbo,
	}
	if c.reduceVoltage == 0 {
		c.reduceVoltage = conf.PSUReduceCurrentVoltage
	}
	if err := c.gate.ConfigureOutput(false); err != nil {
		c.log.Error("PSU gate pin failed")
		c.state.SetError(state.BitPin)
	}
	if err := c.currentA.ConfigureOutput(false); err != nil {
		c.state.SetError(state.BitPin)
	}
	if err := c.currentB.ConfigureOutput(false); err != nil {
		c.state.SetError(state.BitPin)
	}
	if cfg.FanPin != nil {
		if t, err := tachometer.New(cfg.FanPin, conf.TachometerWindow, conf.TachometerPulsesPerRev); err == nil {
			c.fan = t
		} else {
			c.state.SetError(state.BitPin)
		}
	}

	c.state.setTurbo(cfg.Turbo)
	channel := cfg.CurrentChannel
	if cfg.Turbo {
		channel = ChannelTurbo
	} else if channel == 0 {
		channel = ChannelNormal
	}
	c.SetCurrent(channel)

	c.log.Info("initialized power supply controller")
	return c
}

func (c *Controller) State() *State { return c.state }

// SetCurrent drives the multiplexer pins: low bit to A, high bit to B.
func (c *Controller) SetCurrent(channel int) {
	if channel < 0 || channel > 3 {
		return
	}
	c.state.setCurrentChannel(channel)
	c.currentA.Set(channel&0x01 != 0)
	c.currentB.Set(channel>>1&0x01 != 0)
	c.state.Notify()
}

// On energizes the charger. The UART is RX-only; it is (re)configured on
// takeover of the shared link.
func (c *Controller) On() {
	if c.state.Active() {
		return
	}
	_ = c.port.Configure(hal.UARTConfig{Baud: conf.PSUBaudRate})
	c.gate.Set(true)
	c.state.On()
	c.log.Info("power supply is on")
}

func (c *Controller) Off() {
	if !c.state.Active() {
		return
	}
	c.gate.Set(false)
	c.state.Off()
	c.state.Clear()
	c.log.Info("power supply is off")
}

// Toggle flips the power path; wired to the long-press of the power button.
func (c *Controller) Toggle() {
	if c.state.Active() {
		c.Off()
	} else {
		c.On()
	}
}

// ToggleTurbo flips the turbo flag (short press), persists it and selects
// the matching current channel.
func (c *Controller) ToggleTurbo() {
	turbo := !c.state.Turbo()
	c.state.setTurbo(turbo)
	if c.persistTurbo != nil {
		c.persistTurbo(turbo)
	}
	if turbo {
		c.SetCurrent(ChannelTurbo)
	} else {
		c.SetCurrent(ChannelNormal)
	}
	c.log.Info("PSU turbo", turbo)
}

// CheckCellThreshold steps the current channel down when a cell climbs to
// the reduce level while charging; graceful top-balancing.
func (c *Controller) CheckCellThreshold(b *bms.State) {
	if !c.state.Active() {
		return
	}
	channel := c.state.CurrentChannel()
	if channel <= 0 {
		return
	}
	for _, cell := range b.Cells() {
		mv, ok := cell.Get()
		if !ok {
			continue
		}
		if float32(mv)/1000 >= c.reduceVoltage {
			c.log.Info("cell near full, stepping PSU current down to", channel-1)
			c.SetCurrent(channel - 1)
			return
		}
	}
}

// Run is the PSU task: sample the stream, decode, measure the fan, snapshot.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("running PSU controller")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.state.Active() {
			n, err := uartio.Sample(c.port, c.buf[:], conf.UARTSampleWindow)
			if err == nil && n > 0 {
				c.state.ParseBuffer(c.buf[:n])
			}
			c.measureFan()
		}
		c.state.Snapshot()
		c.state.Sleep()
	}
}

func (c *Controller) measureFan() {
	if c.fan == nil {
		return
	}
	if rpm, err := c.fan.Measure(); err == nil {
		c.state.setFanRPM(rpm)
	}
}
