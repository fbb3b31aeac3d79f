package conf

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Board is the hardware mapping for one build of the powerbox. The defaults
// match the reference board; a powerbox.toml in the working directory overrides
// them for bring-up units and bench rigs.
type Board struct {
	Model string `toml:"model"`

	BMS      LinkPins `toml:"bms"`
	Inverter PathPins `toml:"inverter"`
	PSU      PSUPins  `toml:"psu"`
	ATS      ATSPins  `toml:"ats"`

	// Host builds: serial device names backing the UART ports.
	Serial SerialPorts `toml:"serial"`
}

// LinkPins describes a request/response UART link.
type LinkPins struct {
	Rx int `toml:"rx"`
	Tx int `toml:"tx"`
}

// PathPins describes a power path with a button, a gate and a UART link.
type PathPins struct {
	Button int `toml:"button"`
	Gate   int `toml:"gate"`
	Rx     int `toml:"rx"`
	Tx     int `toml:"tx"`
	FanA   int `toml:"fan_a"`
	FanB   int `toml:"fan_b"`
}

type PSUPins struct {
	Button   int `toml:"button"`
	Gate     int `toml:"gate"`
	Rx       int `toml:"rx"`
	Fan      int `toml:"fan"`
	CurrentA int `toml:"current_a"`
	CurrentB int `toml:"current_b"`
}

type ATSPins struct {
	NC int `toml:"nc"`
	NO int `toml:"no"`
}

type SerialPorts struct {
	BMS      string `toml:"bms"`
	Inverter string `toml:"inverter"`
	PSU      string `toml:"psu"`
}

// LoadBoard reads the board file from the first existing path in paths.
// Missing files are skipped silently and defaults returned; a malformed file
// returns an error.
func LoadBoard(paths ...string) (*Board, error) {
	b := DefaultBoard()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, b); err != nil {
				return nil, fmt.Errorf("parsing board file %q: %w", path, err)
			}
			break
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking board file %q: %w", path, statErr)
		}
	}
	return b, nil
}

func DefaultBoard() *Board {
	return &Board{
		Model: Model,
		BMS:   LinkPins{Rx: BMSUARTRxPin, Tx: BMSUARTTxPin},
		Inverter: PathPins{
			Button: InverterPowerButtonPin,
			Gate:   InverterPowerGatePin,
			Rx:     InverterUARTRxPin,
			Tx:     InverterUARTTxPin,
			FanA:   InverterFanTachometerAPin,
			FanB:   InverterFanTachometerBPin,
		},
		PSU: PSUPins{
			Button:   PSUPowerButtonPin,
			Gate:     PSUPowerGatePin,
			Rx:       PSUUARTRxPin,
			Fan:      PSUFanTachometerPin,
			CurrentA: PSUCurrentAPin,
			CurrentB: PSUCurrentBPin,
		},
		ATS: ATSPins{NC: ATSNCPin, NO: ATSNOPin},
		Serial: SerialPorts{
			BMS:      "/dev/ttyUSB0",
			Inverter: "/dev/ttyUSB1",
			PSU:      "/dev/ttyUSB2",
		},
	}
}
