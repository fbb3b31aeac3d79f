package bms

import (
	"bytes"
	"encoding/binary"

	"powerbox-go/errcode"
	"powerbox-go/state"
)

// Response descriptors, in the order the device emits them.
const (
	descCellVoltages       = 0x79
	descMOSTemperature     = 0x80
	descSensor1Temperature = 0x81
	descSensor2Temperature = 0x82
	descPackVoltage        = 0x83
	descPackCurrent        = 0x84
	descSOC                = 0x85
	descTempSensorCount    = 0x86
	descCycles             = 0x87
	descCycleCapacity      = 0x89
	descBatteryStrings     = 0x8A
	descExternalErrors     = 0x8B
	descState              = 0x8C
	descBatteryCapacity    = 0xAA
)

const (
	stateChargeAllowed    = 0x01
	stateDischargeAllowed = 0x02
)

// reader walks the response asserting each descriptor byte at its expected
// offset. Unknown firmware emitting extra descriptors is a parse failure on
// purpose; see DESIGN.md.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return errcode.ShortFrame
	}
	return nil
}

func (r *reader) expect(desc byte) error {
	if err := r.need(1); err != nil {
		return err
	}
	if r.buf[r.off] != desc {
		return errcode.BadResponse
	}
	r.off++
	return nil
}

func (r *reader) u8() (int, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := int(r.buf[r.off])
	r.off++
	return v, nil
}

func (r *reader) u16() (int, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	return v, nil
}

func (r *reader) i16() (int, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int(int16(binary.BigEndian.Uint16(r.buf[r.off:])))
	r.off += 2
	return v, nil
}

func (r *reader) u32() (int, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

// word reads one descriptor-tagged u16.
func (r *reader) word(desc byte) (state.Opt[int], error) {
	if err := r.expect(desc); err != nil {
		return state.None[int](), err
	}
	v, err := r.u16()
	if err != nil {
		return state.None[int](), err
	}
	return state.Some(v), nil
}

// Parse decodes one status response into the state. On error the caller is
// expected to wipe the state; Parse itself writes nothing unless the whole
// frame decodes, so the previous values stay until then.
func (s *State) Parse(resp []byte) error {
	if len(resp) < 4 {
		return errcode.ShortFrame
	}

	start := bytes.IndexByte(resp, descCellVoltages)
	if start < 0 {
		return errcode.BadResponse
	}
	r := &reader{buf: resp, off: start}

	// Cell voltage block: length byte then {cell_index, voltage} triplets.
	if err := r.expect(descCellVoltages); err != nil {
		return err
	}
	blockLen, err := r.u8()
	if err != nil {
		return err
	}
	if blockLen%3 != 0 {
		return errcode.BadResponse
	}
	var cells [CellCount]state.Opt[int]
	for i := 0; i < blockLen/3; i++ {
		if _, err = r.u8(); err != nil { // cell index, positional order is used
			return err
		}
		mv, verr := r.u16()
		if verr != nil {
			return verr
		}
		if i < CellCount {
			cells[i] = state.Some(mv)
		}
	}

	mos, err := r.word(descMOSTemperature)
	if err != nil {
		return err
	}
	s1, err := r.word(descSensor1Temperature)
	if err != nil {
		return err
	}
	if err = r.expect(descSensor2Temperature); err != nil {
		return err
	}
	s2raw, err := r.i16()
	if err != nil {
		return err
	}
	voltage, err := r.word(descPackVoltage)
	if err != nil {
		return err
	}
	current, err := r.word(descPackCurrent)
	if err != nil {
		return err
	}
	if err = r.expect(descSOC); err != nil {
		return err
	}
	soc, err := r.u8()
	if err != nil {
		return err
	}
	if err = r.expect(descTempSensorCount); err != nil {
		return err
	}
	sensors, err := r.u8()
	if err != nil {
		return err
	}
	cycles, err := r.word(descCycles)
	if err != nil {
		return err
	}
	if err = r.expect(descCycleCapacity); err != nil {
		return err
	}
	cycleCap, err := r.u32()
	if err != nil {
		return err
	}
	strings, err := r.word(descBatteryStrings)
	if err != nil {
		return err
	}
	if err = r.expect(descExternalErrors); err != nil {
		return err
	}
	external, err := r.u16()
	if err != nil {
		return err
	}
	if err = r.expect(descState); err != nil {
		return err
	}
	rawState, err := r.u16()
	if err != nil {
		return err
	}

	// Protection thresholds, 0x8E..0x9C with 0x88/0x8D unused by the device.
	var thresholds [15]state.Opt[int]
	for i := range thresholds {
		desc := byte(0x8E + i)
		thresholds[i], err = r.word(desc)
		if err != nil {
			return err
		}
	}

	if err = r.expect(descBatteryCapacity); err != nil {
		return err
	}
	capacity, err := r.u32()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cells = cells
	s.mosTemperature = mos
	s.sensor1Temperature = s1
	s.sensor2Temperature = state.Some(s2raw)
	s.voltage = voltage
	s.current = current
	s.soc = state.Some(soc)
	s.temperatureSensors = state.Some(sensors)
	s.cycles = cycles
	s.cycleCapacity = state.Some(cycleCap)
	s.batteryStrings = strings
	s.rawState = uint16(rawState)
	s.chargingAllowed = state.Some(rawState&stateChargeAllowed != 0)
	s.dischargingAllowed = state.Some(rawState&stateDischargeAllowed != 0)
	s.totalOverVoltageProtection = thresholds[0]
	s.totalUnderVoltageProtection = thresholds[1]
	s.cellOverVoltageProtection = thresholds[2]
	s.cellOverVoltageRecovery = thresholds[3]
	s.cellOverVoltageDelay = thresholds[4]
	s.cellUnderVoltageProtection = thresholds[5]
	s.cellUnderVoltageRecovery = thresholds[6]
	s.cellUnderVoltageDelay = thresholds[7]
	s.cellPressureDifference = thresholds[8]
	s.dischargeOverCurrent = thresholds[9]
	s.dischargeOverCurrentDelay = thresholds[10]
	s.chargeOverCurrent = thresholds[11]
	s.chargeOverCurrentDelay = thresholds[12]
	s.balancingVoltage = thresholds[13]
	s.balancingPressureDifference = thresholds[14]
	s.batteryCapacity = state.Some(capacity)
	s.mu.Unlock()

	s.SetExternalErrors(uint16(external))
	return nil
}
