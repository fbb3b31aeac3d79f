// Package ina219 provides a minimal driver for the INA219 current/voltage
// monitor fitted on bench units to calibrate the controller's idle draw.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when
// both w and r are provided, without releasing the bus.
package ina219

import (
	"encoding/binary"

	"tinygo.org/x/drivers"

	"powerbox-go/errcode"
)

// Address is the default I2C address.
const Address = 0x40

// Registers.
const (
	regShuntVoltage = 0x01
	regBusVoltage   = 0x02
	regCalibration  = 0x05
)

// calibrationValue suits a 32 V / 2 A configuration.
const calibrationValue = 0x2000

// Device wraps an I2C connection to an INA219.
type Device struct {
	bus     drivers.I2C
	Address uint16

	buf [3]byte
}

// New creates the device handle. The I2C bus must already be configured.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Configure writes the calibration register.
func (d *Device) Configure() error {
	d.buf[0] = regCalibration
	binary.BigEndian.PutUint16(d.buf[1:], calibrationValue)
	if err := d.bus.Tx(d.Address, d.buf[:3], nil); err != nil {
		return errcode.Wrap(errcode.NoResponse, "ina219.configure", err)
	}
	return nil
}

func (d *Device) readRegister(reg byte) (uint16, error) {
	d.buf[0] = reg
	if err := d.bus.Tx(d.Address, d.buf[:1], d.buf[1:3]); err != nil {
		return 0, errcode.Wrap(errcode.NoResponse, "ina219.read", err)
	}
	return binary.BigEndian.Uint16(d.buf[1:3]), nil
}

// BusVoltage returns the rail voltage in millivolts. Each LSB is 4 mV.
func (d *Device) BusVoltage() (int, error) {
	raw, err := d.readRegister(regBusVoltage)
	if err != nil {
		return 0, err
	}
	return int(raw>>3) * 4, nil
}

// ShuntVoltage returns the shunt drop in microvolts. Each LSB is 10 µV.
func (d *Device) ShuntVoltage() (int, error) {
	raw, err := d.readRegister(regShuntVoltage)
	if err != nil {
		return 0, err
	}
	return int(int16(raw)) * 10, nil
}
