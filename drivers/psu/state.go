// Package psu is the charger client: it decodes the PSU's continuous frame
// stream, drives the current-channel multiplexer and the turbo toggle.
package psu

import (
	"bytes"
	"encoding/binary"
	"sync"

	"powerbox-go/history"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// Frame layout: header(2) + power1:u16le + power2:u16le + power_crc:u8 +
// data_tag:u8 + state:u8 + reserved:u8 + ac:u8 + t1:u8 + t2:u8 + t3:u8 +
// reserved(7) + data_crc:u8.
const frameLen = 22

var frameHeader = []byte{0x49, 0x34}

// State is the last decoded charger condition.
type State struct {
	*state.Base

	mu sync.Mutex

	turbo          bool
	currentChannel int

	power1 state.Opt[int]
	power2 state.Opt[int]
	ac     state.Opt[int] // mains voltage, volts

	t1 state.Opt[int]
	t2 state.Opt[int]
	t3 state.Opt[int]

	rawState byte
	fanRPM   state.Opt[int]
}

func NewState(log *logging.Logger, cfg state.Config) *State {
	s := &State{}
	cfg.Name = "PSU"
	cfg.Log = log
	cfg.Wire = s.wireState
	cfg.BuildHistory = s.buildHistory
	s.Base = state.NewBase(cfg)
	s.Base.AddRing(history.ChartPSUVoltage, history.New(history.ChartPSUVoltage, history.DataTypeWord, history.Size))
	s.Base.AddRing(history.ChartPSUTemperature, history.New(history.ChartPSUTemperature, history.DataTypeByte, history.Size))
	return s
}

// Clear wipes the nullable telemetry.
func (s *State) Clear() {
	s.mu.Lock()
	s.power1.Clear()
	s.power2.Clear()
	s.ac.Clear()
	s.t1.Clear()
	s.t2.Clear()
	s.t3.Clear()
	s.fanRPM.Clear()
	s.rawState = 0
	s.mu.Unlock()
}

func (s *State) Turbo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turbo
}

func (s *State) setTurbo(on bool) {
	s.mu.Lock()
	s.turbo = on
	s.mu.Unlock()
}

func (s *State) CurrentChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChannel
}

func (s *State) setCurrentChannel(ch int) {
	s.mu.Lock()
	s.currentChannel = ch
	s.mu.Unlock()
}

func (s *State) Power() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power1
}

func (s *State) Power2() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power2
}

func (s *State) AC() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ac
}

func (s *State) Temperature() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t1
}

func (s *State) FanRPM() state.Opt[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fanRPM
}

func (s *State) setFanRPM(rpm int) {
	s.mu.Lock()
	s.fanRPM.Set(rpm)
	s.mu.Unlock()
}

func (s *State) RawDeviceState() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawState
}

func sum(p []byte) byte {
	var total byte
	for _, b := range p {
		total += b
	}
	return total
}

// ParseBuffer searches the sampled bytes for one full frame. A header-less or
// incomplete buffer is a no-op; a CRC mismatch raises BAD_RESPONSE and leaves
// the previous values untouched.
func (s *State) ParseBuffer(buf []byte) {
	start := bytes.Index(buf, frameHeader)
	if start < 0 || len(buf)-start < frameLen {
		return
	}
	frame := buf[start : start+frameLen]

	powerCRC := sum(frame[2:6])
	dataCRC := sum(frame[7 : frameLen-1])
	if frame[6] != powerCRC || frame[frameLen-1] != dataCRC {
		s.SetError(state.BitBadResponse)
		return
	}

	s.mu.Lock()
	s.power1.Set(int(binary.LittleEndian.Uint16(frame[2:])))
	s.power2.Set(int(binary.LittleEndian.Uint16(frame[4:])))
	s.rawState = frame[8]
	s.ac.Set(int(frame[10]))
	s.t1.Set(int(frame[11]))
	s.t2.Set(int(frame[12]))
	s.t3.Set(int(frame[13]))
	s.mu.Unlock()

	s.ResetError(state.BitBadResponse)
}

func (s *State) wireState() []byte {
	s.mu.Lock()
	var acV state.Opt[float32]
	if v, ok := s.ac.Get(); ok {
		acV = state.Some(float32(v))
	}
	power := state.PackWord(s.power1)
	turbo := s.turbo
	channel := s.currentChannel
	temp := state.PackByte(s.t1)
	fan := state.PackWord(s.fanRPM)
	voltage := state.PackVoltage(acV)
	s.mu.Unlock()

	active := state.Some(s.Active())
	out := make([]byte, 0, 12)
	out = binary.BigEndian.AppendUint16(out, voltage)
	out = append(out,
		state.PackBool(active),
		state.PackBool(state.Some(turbo)),
		byte(channel+1),
		temp,
	)
	out = binary.BigEndian.AppendUint16(out, power)
	out = binary.BigEndian.AppendUint16(out, fan)
	out = append(out,
		byte(s.ExternalErrors()+1),
		byte(s.InternalErrors()+1),
	)
	return out
}

func (s *State) buildHistory() {
	s.mu.Lock()
	var acV state.Opt[float32]
	if v, ok := s.ac.Get(); ok {
		acV = state.Some(float32(v))
	}
	voltage := state.PackVoltage(acV)
	temp := state.PackByte(s.t1)
	s.mu.Unlock()
	s.Ring(history.ChartPSUVoltage).Push(voltage)
	s.Ring(history.ChartPSUTemperature).Push(uint16(temp))
}
