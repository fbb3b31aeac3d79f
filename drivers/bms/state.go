// Package bms is the battery management system client: the framed UART
// dialogue, cell parsing, the threshold event engine and self-consumption
// accounting.
package bms

import (
	"encoding/binary"
	"sync"

	"powerbox-go/history"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// CellCount is the pack's series cell count.
const CellCount = 4

// State holds everything the last successful status exchange reported.
// The controller is the only mutator; readers go through the accessors.
type State struct {
	*state.Base

	mu sync.Mutex

	// Per-cell voltage in mV.
	cells [CellCount]state.Opt[int]

	mosTemperature     state.Opt[int]
	sensor1Temperature state.Opt[int]
	sensor2Temperature state.Opt[int]

	voltage state.Opt[int] // pack voltage, centivolts
	current state.Opt[int] // raw u16, sign in MSB, centiamps
	soc     state.Opt[int]

	temperatureSensors state.Opt[int]
	cycles             state.Opt[int]
	cycleCapacity      state.Opt[int]
	batteryStrings     state.Opt[int]
	batteryCapacity    state.Opt[int] // Ah

	rawState           uint16
	chargingAllowed    state.Opt[bool]
	dischargingAllowed state.Opt[bool]

	// Protection thresholds read from the device.
	totalOverVoltageProtection  state.Opt[int]
	totalUnderVoltageProtection state.Opt[int]
	cellOverVoltageProtection   state.Opt[int]
	cellOverVoltageRecovery     state.Opt[int]
	cellOverVoltageDelay        state.Opt[int]
	cellUnderVoltageProtection  state.Opt[int]
	cellUnderVoltageRecovery    state.Opt[int]
	cellUnderVoltageDelay       state.Opt[int]
	cellPressureDifference      state.Opt[int]
	dischargeOverCurrent        state.Opt[int]
	dischargeOverCurrentDelay   state.Opt[int]
	chargeOverCurrent           state.Opt[int]
	chargeOverCurrentDelay      state.Opt[int]
	balancingVoltage            state.Opt[int]
	balancingPressureDifference state.Opt[int]

	// Controller draw the pack shunt cannot see, in Ah.
	selfConsumptionAh float32
}

func NewState(log *logging.Logger, cfg state.Config) *State {
	s := &State{}
	cfg.Name = "BMS"
	cfg.Log = log
	cfg.Wire = s.wireState
	cfg.BuildHistory = s.buildHistory
	s.Base = state.NewBase(cfg)

	s.Base.AddRing(history.ChartBMSSoc, history.New(history.ChartBMSSoc, history.DataTypeByte, history.Size))
	s.Base.AddRing(history.ChartBMSCurrent, history.New(history.ChartBMSCurrent, history.DataTypeWord, history.Size))
	s.Base.AddRing(history.ChartBMSCell1Voltage, history.New(history.ChartBMSCell1Voltage, history.DataTypeByte, history.Size))
	s.Base.AddRing(history.ChartBMSCell2Voltage, history.New(history.ChartBMSCell2Voltage, history.DataTypeByte, history.Size))
	s.Base.AddRing(history.ChartBMSCell3Voltage, history.New(history.ChartBMSCell3Voltage, history.DataTypeByte, history.Size))
	s.Base.AddRing(history.ChartBMSCell4Voltage, history.New(history.ChartBMSCell4Voltage, history.DataTypeByte, history.Size))
	return s
}

// Clear wipes every nullable field. Called when a status exchange fails.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cells {
		s.cells[i].Clear()
	}
	s.mosTemperature.Clear()
	s.sensor1Temperature.Clear()
	s.sensor2Temperature.Clear()
	s.voltage.Clear()
	s.current.Clear()
	s.soc.Clear()
	s.temperatureSensors.Clear()
	s.cycles.Clear()
	s.cycleCapacity.Clear()
	s.batteryStrings.Clear()
	s.batteryCapacity.Clear()
	s.rawState = 0
	s.chargingAllowed.Clear()
	s.dischargingAllowed.Clear()
	s.totalOverVoltageProtection.Clear()
	s.totalUnderVoltageProtection.Clear()
	s.cellOverVoltageProtection.Clear()
	s.cellOverVoltageRecovery.Clear()
	s.cellOverVoltageDelay.Clear()
	s.cellUnderVoltageProtection.Clear()
	s.cellUnderVoltageRecovery.Clear()
	s.cellUnderVoltageDelay.Clear()
	s.cellPressureDifference.Clear()
	s.dischargeOverCurrent.Clear()
	s.dischargeOverCurrentDelay.Clear()
	s.chargeOverCurrent.Clear()
	s.chargeOverCurrentDelay.Clear()
	s.balancingVoltage.Clear()
	s.balancingPressureDifference.Clear()
}

// ---- Accessors ----

// Cell returns the voltage of cell i in mV.
func (s *State) Cell(i int) state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= CellCount {
		return state.None[int]()
	}
	return s.cells[i]
}

// Cells returns all cell voltages in mV.
func (s *State) Cells() [CellCount]state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells
}

func (s *State) Voltage() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voltage
}

func (s *State) MOSTemperature() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mosTemperature
}

func (s *State) ChargingAllowed() state.Opt[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chargingAllowed
}

func (s *State) DischargingAllowed() state.Opt[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dischargingAllowed
}

func (s *State) Cycles() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *State) BatteryCapacity() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batteryCapacity
}

// Discharging reports the sign bit of the pack current: set means the pack
// is being drawn down.
func (s *State) Discharging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.current.Get()
	return ok && c&(1<<15) != 0
}

// Power returns the instantaneous pack power in watts, 0 when unknown.
func (s *State) Power() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, okC := s.current.Get()
	v, okV := s.voltage.Get()
	if !okC || !okV || c == 0 || v == 0 {
		return 0
	}
	amps := float32(c&0x7FFF) / 100
	return int(amps * float32(v) / 100)
}

// SOC returns the device-reported state of charge adjusted for accumulated
// self-consumption.
func (s *State) SOC() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.soc.Get()
	if !ok {
		return state.None[int]()
	}
	cap, okCap := s.batteryCapacity.Get()
	if !okCap || cap <= 0 {
		return state.Some(raw)
	}
	adjusted := raw - int(100*s.selfConsumptionAh/float32(cap))
	if adjusted < 0 {
		adjusted = 0
	}
	return state.Some(adjusted)
}

// SelfConsumption returns the accumulated controller draw in Ah.
func (s *State) SelfConsumption() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfConsumptionAh
}

func (s *State) setSelfConsumption(ah float32) {
	s.mu.Lock()
	s.selfConsumptionAh = ah
	s.mu.Unlock()
}

// ---- Wire and history ----

func (s *State) wireState() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, 18)
	out = binary.BigEndian.AppendUint16(out, state.PackWord(s.voltage))
	out = binary.BigEndian.AppendUint16(out, state.PackWord(s.current))
	out = append(out,
		state.PackByte(s.socLocked()),
		state.PackBool(s.chargingAllowed),
		state.PackBool(s.dischargingAllowed),
		state.PackTemperature(s.mosTemperature),
		state.PackTemperature(s.sensor1Temperature),
		state.PackTemperature(s.sensor2Temperature),
		state.PackCellVoltage(s.cells[0]),
		state.PackCellVoltage(s.cells[1]),
		state.PackCellVoltage(s.cells[2]),
		state.PackCellVoltage(s.cells[3]),
	)
	out = binary.BigEndian.AppendUint16(out, uint16(int(s.ExternalErrors())+1))
	out = append(out, byte(s.InternalErrors()+1))
	return out
}

// socLocked mirrors SOC() for callers already holding the lock.
func (s *State) socLocked() state.Opt[int] {
	raw, ok := s.soc.Get()
	if !ok {
		return state.None[int]()
	}
	cap, okCap := s.batteryCapacity.Get()
	if !okCap || cap <= 0 {
		return state.Some(raw)
	}
	adjusted := raw - int(100*s.selfConsumptionAh/float32(cap))
	if adjusted < 0 {
		adjusted = 0
	}
	return state.Some(adjusted)
}

func (s *State) buildHistory() {
	s.mu.Lock()
	soc := state.PackByte(s.socLocked())
	current := state.PackWord(s.current)
	var cells [CellCount]byte
	for i := range s.cells {
		cells[i] = state.PackCellVoltage(s.cells[i])
	}
	s.mu.Unlock()

	s.Ring(history.ChartBMSSoc).Push(uint16(soc))
	s.Ring(history.ChartBMSCurrent).Push(current)
	s.Ring(history.ChartBMSCell1Voltage).Push(uint16(cells[0]))
	s.Ring(history.ChartBMSCell2Voltage).Push(uint16(cells[1]))
	s.Ring(history.ChartBMSCell3Voltage).Push(uint16(cells[2]))
	s.Ring(history.ChartBMSCell4Voltage).Push(uint16(cells[3]))
}
