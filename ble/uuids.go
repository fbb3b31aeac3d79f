package ble

// UUID identifies one characteristic on the wireless service. The transport
// binding maps these to its native handles.
type UUID string

const (
	ServiceUUID     UUID = "7062-0000" // core service
	InfoServiceUUID UUID = "7062-f000"

	// Readable + notifiable state characteristics, one per subsystem.
	BMSStateUUID      UUID = "7062-0001"
	InverterStateUUID UUID = "7062-0002"
	PSUStateUUID      UUID = "7062-0003"
	MCUStateUUID      UUID = "7062-0004"
	ATSStateUUID      UUID = "7062-0005"

	// Notify-only stream of history frames for every metric.
	HistoryUUID UUID = "7062-0010"

	// Write-only command characteristic (opcode + operands).
	CommandUUID UUID = "7062-0020"

	// Notify-only forwarded log lines.
	LogUUID UUID = "7062-0030"

	// Static device information.
	ManufacturerUUID UUID = "7062-f001"
	ModelNumberUUID  UUID = "7062-f002"
	FirmwareRevUUID  UUID = "7062-f003"
)

// Command opcodes, first byte of a command write.
const (
	cmdPullHistory = 0x01

	cmdPSUOn         = 0x10
	cmdPSUOff        = 0x11
	cmdPSUSetCurrent = 0x12

	cmdInverterOn  = 0x20
	cmdInverterOff = 0x21

	cmdATSEnable  = 0x30
	cmdATSDisable = 0x31

	cmdProfileSet = 0x40

	cmdOTAUpdate = 0x50

	cmdLogForwardOn  = 0x60
	cmdLogForwardOff = 0x61

	cmdReboot = 0xF0
)
