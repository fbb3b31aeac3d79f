package bms

// Jikong BMS frame constants. The modify frames carry the register (0xAB
// charge switch, 0xAC discharge switch), the new value and a running
// checksum in the last two bytes.

var header = []byte{0x4E, 0x57}

var statusRequest = []byte{
	0x4E, 0x57, 0x00, 0x13, 0x00, 0x00, 0x00, 0x00, 0x06, 0x03, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x68, 0x00, 0x00, 0x01, 0x29,
}

var enableCharge = []byte{
	0x4E, 0x57, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00, 0x02, 0x03, 0x02,
	0xAB, 0x01, 0x00, 0x00, 0x00, 0x00, 0x68, 0x00, 0x00, 0x01, 0xD4,
}

var disableCharge = []byte{
	0x4E, 0x57, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00, 0x02, 0x03, 0x02,
	0xAB, 0x00, 0x00, 0x00, 0x00, 0x00, 0x68, 0x00, 0x00, 0x01, 0xD3,
}

var enableDischarge = []byte{
	0x4E, 0x57, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00, 0x02, 0x03, 0x02,
	0xAC, 0x01, 0x00, 0x00, 0x00, 0x00, 0x68, 0x00, 0x00, 0x01, 0xD5,
}

var disableDischarge = []byte{
	0x4E, 0x57, 0x00, 0x14, 0x00, 0x00, 0x00, 0x00, 0x02, 0x03, 0x02,
	0xAC, 0x00, 0x00, 0x00, 0x00, 0x00, 0x68, 0x00, 0x00, 0x01, 0xD4,
}

// Checksum returns the two checksum bytes for a frame body: the byte sum,
// big-endian.
func Checksum(frame []byte) [2]byte {
	sum := 0
	for _, b := range frame {
		sum += int(b)
	}
	return [2]byte{byte(sum >> 8), byte(sum)}
}
