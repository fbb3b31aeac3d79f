// Package inverter is the FCHAO inverter client: framed status parsing with
// checksum, the power-gate state machine and fan tachometry.
package inverter

import (
	"bytes"
	"encoding/binary"
	"sync"

	"powerbox-go/errcode"
	"powerbox-go/history"
	"powerbox-go/logging"
	"powerbox-go/state"
)

const frameLen = 17

const (
	frameStart = 0xAE
	frameEnd   = 0xEE
)

// fanRotationFlag is masked off the device error byte: a custom fan is
// fitted that the module cannot measure.
const fanRotationFlag = 0x40

// State is the last reported inverter condition.
type State struct {
	*state.Base

	mu sync.Mutex

	ac          state.Opt[int]     // AC output, volts
	power       state.Opt[int]     // output power, watts
	dc          state.Opt[float32] // DC input, volts
	temperature state.Opt[int]     // device temperature, °C
	level       state.Opt[int]     // battery level 1-10
	fanRPM      [2]state.Opt[int]

	valid bool
}

func NewState(log *logging.Logger, cfg state.Config) *State {
	s := &State{}
	cfg.Name = "INVERTER"
	cfg.Log = log
	cfg.Wire = s.wireState
	cfg.BuildHistory = s.buildHistory
	s.Base = state.NewBase(cfg)
	s.Base.AddRing(history.ChartInverterPower, history.New(history.ChartInverterPower, history.DataTypeWord, history.Size))
	s.Base.AddRing(history.ChartInverterTemperature, history.New(history.ChartInverterTemperature, history.DataTypeByte, history.Size))
	return s
}

// Clear wipes the nullable telemetry, keeping error bitmaps intact.
func (s *State) Clear() {
	s.mu.Lock()
	s.ac.Clear()
	s.power.Clear()
	s.dc.Clear()
	s.temperature.Clear()
	s.level.Clear()
	s.fanRPM[0].Clear()
	s.fanRPM[1].Clear()
	s.valid = false
	s.mu.Unlock()
}

func (s *State) AC() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ac
}

func (s *State) Power() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

func (s *State) DC() state.Opt[float32] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc
}

func (s *State) Temperature() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature
}

func (s *State) Level() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *State) FanRPM(i int) state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i > 1 {
		return state.None[int]()
	}
	return s.fanRPM[i]
}

func (s *State) setFanRPM(i, rpm int) {
	s.mu.Lock()
	if i >= 0 && i < 2 {
		s.fanRPM[i].Set(rpm)
	}
	s.mu.Unlock()
}

// Valid reports whether the last frame passed its checksum.
func (s *State) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// bcd decodes one BCD-packed byte into its two decimal digits.
func bcd(b byte) int { return int(b>>4)*10 + int(b&0x0F) }

// ParseBuffer locates one frame in the sampled bytes and parses it. The
// BAD_RESPONSE bit tracks validity; a frame failing its checksum leaves the
// previous field values untouched.
func (s *State) ParseBuffer(buf []byte) {
	start := bytes.IndexByte(buf, frameStart)
	end := bytes.IndexByte(buf, frameEnd)
	if start >= 0 && end >= start {
		s.parse(buf[start : end+1])
	}
	if s.Valid() {
		s.ResetError(state.BitBadResponse)
	} else {
		s.SetError(state.BitBadResponse)
	}
}

func (s *State) parse(frame []byte) {
	if len(frame) != frameLen {
		s.mu.Lock()
		s.valid = false
		s.mu.Unlock()
		return
	}

	address := frame[1]
	length := frame[2]
	cmd := frame[3]
	ac1, ac2 := frame[4], frame[5]
	power1, power2 := frame[6], frame[7]
	dc1, dc2 := frame[8], frame[9]
	temp1, temp2 := frame[10], frame[11]
	deviceError := frame[13]
	level := frame[14]
	checksum := bcd(frame[15])

	sum := int(address) + int(length) + int(cmd) +
		int(ac1) + int(ac2) + int(power1) + int(power2) +
		int(dc1) + int(dc2) + int(temp1) + int(temp2) +
		int(deviceError) + int(level)
	if sum%256%100 != checksum {
		s.mu.Lock()
		s.valid = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.ac.Set(bcd(ac1)*100 + bcd(ac2))
	s.power.Set(bcd(power1)*100 + bcd(power2))
	s.dc.Set(float32(bcd(dc1))*10 + float32(bcd(dc2))/10)
	s.temperature.Set(bcd(temp1)*100 + bcd(temp2))
	s.level.Set(int(level))
	s.valid = true
	s.mu.Unlock()

	s.SetExternalErrors(uint16(bcd(deviceError)) &^ fanRotationFlag)
}

// ParseFrame is the strict single-frame entry used by tests and diagnostics.
func (s *State) ParseFrame(frame []byte) error {
	s.parse(frame)
	if !s.Valid() {
		return errcode.BadChecksum
	}
	return nil
}

func (s *State) wireState() []byte {
	s.mu.Lock()
	power := state.PackWord(s.power)
	ac := state.PackByte(s.ac)
	temp := state.PackByte(s.temperature)
	s.mu.Unlock()

	active := state.Some(s.Active())
	out := make([]byte, 0, 7)
	out = binary.BigEndian.AppendUint16(out, power)
	out = append(out,
		state.PackBool(active),
		ac,
		temp,
		byte(s.ExternalErrors()+1),
		byte(s.InternalErrors()+1),
	)
	return out
}

func (s *State) buildHistory() {
	s.mu.Lock()
	power := state.PackWord(s.power)
	temp := state.PackByte(s.temperature)
	s.mu.Unlock()
	s.Ring(history.ChartInverterPower).Push(power)
	s.Ring(history.ChartInverterTemperature).Push(uint16(temp))
}
