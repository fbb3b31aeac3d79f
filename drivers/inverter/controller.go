package inverter

import (
	"context"
	"sync"
	"time"

	"powerbox-go/conf"
	"powerbox-go/drivers/tachometer"
	"powerbox-go/hal"
	"powerbox-go/hal/uartio"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// Stage is the power path state machine.
type Stage uint8

const (
	StageOff Stage = iota
	StageBootstrapping
	StageActive
)

var (
	statusRequest   = []byte{0xAE, 0x01, 0x01, 0x03, 0x05, 0xEE}
	turnOnRequest   = []byte{0xAE, 0x01, 0x02, 0x04, 0x00, 0x00, 0x07, 0xEE}
	shutdownRequest = []byte{0xAE, 0x01, 0x02, 0x04, 0x01, 0x00, 0x08, 0xEE}
)

const statusTurnaround = 50 * time.Millisecond

type Config struct {
	Port     hal.UARTPort
	GatePin  hal.IRQPin
	FanAPin  hal.IRQPin
	FanBPin  hal.IRQPin
	Log      *logging.Logger
	State    state.Config
	Settle   time.Duration // bootstrap settle; defaults to conf.InverterSettleDelay
}

// Controller drives the inverter power path: OFF -> BOOTSTRAPPING -> ACTIVE,
// framed status reads while active, fan tachometry, explicit on/off frames.
type Controller struct {
	log   *logging.Logger
	port  hal.UARTPort
	state *State

	gate hal.IRQPin
	fanA *tachometer.Tachometer
	fanB *tachometer.Tachometer

	mu          sync.Mutex
	stage       Stage
	settleUntil time.Time
	settle      time.Duration

	buf [64]byte
}

func New(cfg Config) *Controller {
	c := &Controller{
		log:    cfg.Log,
		port:   cfg.Port,
		state:  NewState(cfg.Log, cfg.State),
		gate:   cfg.GatePin,
		settle: cfg.Settle,
	}
	if c.settle <= 0 {
		c.settle = conf.InverterSettleDelay
	}
	if err := c.gate.ConfigureOutput(false); err != nil {
		c.log.Error("inverter gate pin failed")
		c.state.SetError(state.BitPin)
	}
	if cfg.FanAPin != nil {
		if t, err := tachometer.New(cfg.FanAPin, conf.TachometerWindow, conf.TachometerPulsesPerRev); err == nil {
			c.fanA = t
		} else {
			c.state.SetError(state.BitPin)
		}
	}
	if cfg.FanBPin != nil {
		if t, err := tachometer.New(cfg.FanBPin, conf.TachometerWindow, conf.TachometerPulsesPerRev); err == nil {
			c.fanB = t
		} else {
			c.state.SetError(state.BitPin)
		}
	}
	c.log.Info("initialized inverter")
	return c
}

func (c *Controller) State() *State { return c.state }

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// On opens the UART, energizes the gate and enters BOOTSTRAPPING. No status
// read happens until the settle delay elapses.
func (c *Controller) On() {
	if c.state.Active() {
		return
	}
	_ = c.port.Configure(hal.UARTConfig{Baud: conf.InverterBaudRate})
	_, _ = c.port.Write(turnOnRequest)
	c.gate.Set(true)

	c.mu.Lock()
	c.stage = StageBootstrapping
	c.settleUntil = time.Now().Add(c.settle)
	c.mu.Unlock()

	c.state.On()
	c.log.Info("inverter is on")
}

// Off de-energizes the gate and clears the nullable state fields.
func (c *Controller) Off() {
	if !c.state.Active() {
		return
	}
	_, _ = c.port.Write(shutdownRequest)
	c.gate.Set(false)

	c.mu.Lock()
	c.stage = StageOff
	c.mu.Unlock()

	c.state.Off()
	c.state.Clear()
	c.log.Info("inverter is off")
}

// Toggle flips the power path; wired to the long-press of the power button.
func (c *Controller) Toggle() {
	if c.state.Active() {
		c.Off()
	} else {
		c.On()
	}
}

// Run is the inverter task.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("running inverter controller")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch c.tickStage() {
		case StageActive:
			c.readStatus()
			c.measureFans()
			c.state.Snapshot()
		case StageBootstrapping:
			// settling; no reads
		}
		c.state.Sleep()
	}
}

// tickStage advances BOOTSTRAPPING to ACTIVE once the settle delay elapsed.
func (c *Controller) tickStage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage == StageBootstrapping && !time.Now().Before(c.settleUntil) {
		c.stage = StageActive
	}
	return c.stage
}

func (c *Controller) readStatus() {
	n, err := uartio.Query(c.port, statusRequest, statusTurnaround, c.buf[:])
	if err != nil || n == 0 {
		return
	}
	c.state.ParseBuffer(c.buf[:n])
	if c.state.Valid() {
		c.log.Debug("inverter AC", c.state.AC().Or(0), "W", c.state.Power().Or(0), "T", c.state.Temperature().Or(0))
	} else {
		c.log.Warning("inverter state is not valid")
	}
}

func (c *Controller) measureFans() {
	if c.fanA != nil {
		if rpm, err := c.fanA.Measure(); err == nil {
			c.state.setFanRPM(0, rpm)
		}
	}
	if c.fanB != nil {
		if rpm, err := c.fanB.Measure(); err == nil {
			c.state.setFanRPM(1, rpm)
		}
	}
}
