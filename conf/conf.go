// Package conf holds compile-time configuration: hardware pin mappings, UART
// settings, protection thresholds and cadences used throughout the firmware.
// A board file (powerbox.toml) may override the hardware mapping at boot.
package conf

import "time"

// Firmware is the released firmware version (major.minor.patch).
const Firmware = "1.4.2"

const Model = "PWB-2000"

// ---- UART links ----

const (
	BMSBaudRate = 115200
	BMSUARTPort = "uart1"

	InverterBaudRate = 9600
	InverterUARTPort = "uart2"

	PSUBaudRate = 4800
	PSUUARTPort = "uart2" // shared with the inverter, mutual exclusion applies
)

// ---- Default pin mapping (overridable via the board file) ----

const (
	BMSUARTRxPin = 42
	BMSUARTTxPin = 41

	PSUPowerButtonPin   = 18
	PSUPowerGatePin     = 15
	PSUFanTachometerPin = 6
	PSUUARTRxPin        = 7
	PSUCurrentAPin      = 17
	PSUCurrentBPin      = 16

	InverterPowerButtonPin   = 40
	InverterPowerGatePin     = 39
	InverterUARTRxPin        = 45
	InverterUARTTxPin        = 48
	InverterFanTachometerAPin = 21
	InverterFanTachometerBPin = 47

	ATSNOPin = 14
	ATSNCPin = 13
)

// ---- Cell-voltage protection ----

const (
	// Charging stops once any cell sits above this for the confirmation count.
	PSUMaxCellVoltage float32 = 3.5

	// The PSU steps its current channel down when a cell reaches this level.
	PSUReduceCurrentVoltage float32 = 3.45

	// Discharging stops once any cell sits below this for the confirmation count.
	InverterMinCellVoltage float32 = 2.75

	// Consecutive exceedances required before a threshold event fires.
	TurnOffMaxConfirmations = 3
)

// ---- Self-consumption accounting ----

// Idle draw the pack shunt cannot see, in amps.
const (
	MCUPower float32 = 0.12
	USBPower float32 = 0.05
	BMSPower float32 = 0.02
)

// MCUPowerFrequency is the number of state ticks between accumulation steps.
const MCUPowerFrequency = 5

// ---- Cadence and health ----

const (
	StatePeriod   = 1 * time.Second
	HistoryPeriod = 60 * time.Second

	// HealthGrace is added to a state period before TIMEOUT is raised.
	HealthGrace = 5 * time.Second

	// InverterSettleDelay holds status polling after the power gate closes.
	InverterSettleDelay = 3 * time.Second

	// UARTSampleWindow bounds one read of the PSU stream.
	UARTSampleWindow = 500 * time.Millisecond
)

// ---- Buttons ----

const (
	ButtonJitter    = 50 * time.Millisecond
	ButtonDelay     = 200 * time.Millisecond
	ButtonLongPress = 1500 * time.Millisecond
)

// ---- Telemetry ----

const (
	HistorySize = 120
	HistoryMTU  = 20

	// TachometerWindow is the fan RPM edge-count window.
	TachometerWindow = 200 * time.Millisecond

	// TachometerPulsesPerRev for the custom fans (two pulses per revolution).
	TachometerPulsesPerRev = 2

	// HistoryChunkPacing spaces full-dump chunks on the transport.
	HistoryChunkPacing = 10 * time.Millisecond
)

// ---- Misc ----

const (
	ProfileFilename = "profile.json"
	BoardFilename   = "powerbox.toml"

	BLEGapName      = "Trypillia"
	BLEManufacturer = "egg17"
)
