// Package mcu is the controller self-monitor: heap usage, die temperature
// and a heartbeat the display blinks.
package mcu

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"powerbox-go/conf"
	"powerbox-go/drivers/ina219"
	"powerbox-go/hal"
	"powerbox-go/logging"
	"powerbox-go/state"
	"powerbox-go/x/mathx"
)

// gcFrequency is the number of ticks between forced collections.
const gcFrequency = 5

type State struct {
	*state.Base

	mu          sync.Mutex
	memory      state.Opt[int] // heap used, percent
	temperature state.Opt[int] // die temperature, °C
	heartbeat   bool
	bootedAt    time.Time
}

func NewState(log *logging.Logger, cfg state.Config) *State {
	s := &State{bootedAt: time.Now()}
	cfg.Name = "MCU"
	cfg.Log = log
	cfg.Wire = s.wireState
	s.Base = state.NewBase(cfg)
	return s
}

func (s *State) Memory() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

func (s *State) Temperature() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature
}

func (s *State) Heartbeat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

func (s *State) wireState() []byte {
	s.mu.Lock()
	uptime := int(time.Since(s.bootedAt).Seconds())
	temp := state.PackByte(s.temperature)
	mem := state.PackByte(s.memory)
	s.mu.Unlock()

	out := make([]byte, 0, 8)
	out = binary.BigEndian.AppendUint32(out, uint32(uptime+1))
	out = append(out,
		state.PackVersion(conf.Firmware),
		temp,
		mem,
		byte(s.InternalErrors()+1),
	)
	return out
}

type Config struct {
	Temp  hal.TempSensor
	Log   *logging.Logger
	State state.Config

	// Power is an optional supply-rail monitor for bench calibration of the
	// self-consumption constants.
	Power *ina219.Device
}

type Controller struct {
	log   *logging.Logger
	temp  hal.TempSensor
	power *ina219.Device
	state *State
}

func New(cfg Config) *Controller {
	return &Controller{
		log:   cfg.Log,
		temp:  cfg.Temp,
		power: cfg.Power,
		state: NewState(cfg.Log, cfg.State),
	}
}

func (c *Controller) State() *State { return c.state }

func (c *Controller) readTemperature() {
	t, err := c.temp.DieTemperature()
	if err != nil {
		return
	}
	c.state.mu.Lock()
	c.state.temperature.Set(t)
	c.state.mu.Unlock()
}

// Run is the self-monitor task.
func (c *Controller) Run(ctx context.Context) {
	gcCounter := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		used := 0
		if ms.HeapSys > 0 {
			used = mathx.Clamp(int(ms.HeapAlloc*100/ms.HeapSys), 0, 100)
		}

		c.state.mu.Lock()
		c.state.heartbeat = !c.state.heartbeat
		c.state.memory.Set(used)
		c.state.mu.Unlock()

		if c.temp != nil {
			c.readTemperature()
		}

		gcCounter++
		if gcCounter >= gcFrequency {
			runtime.GC()
			gcCounter = 0
			c.log.Debug("MCU memory", used, "% temperature", c.state.Temperature().Or(0))
			if c.power != nil {
				if mv, err := c.power.BusVoltage(); err == nil {
					c.log.Debug("MCU rail", mv, "mV")
				}
			}
		}

		c.state.Snapshot()
		c.state.Sleep()
	}
}
