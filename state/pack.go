package state

// Wire packing helpers. The transport payloads are size-constrained, so
// nullable values fold NULL into the value range instead of carrying tags:
// a nullable number encodes NULL as 0x00 and value v as v+1.

// PackByte encodes a nullable small number into one byte.
func PackByte(v Opt[int]) byte {
	x, ok := v.Get()
	if !ok {
		return 0x00
	}
	return byte(x + 1)
}

// PackWord encodes a nullable number into a u16.
func PackWord(v Opt[int]) uint16 {
	x, ok := v.Get()
	if !ok {
		return 0x0000
	}
	return uint16(x + 1)
}

// PackU32 encodes a nullable number into a u32.
func PackU32(v Opt[int]) uint32 {
	x, ok := v.Get()
	if !ok {
		return 0
	}
	return uint32(x + 1)
}

// Unpack reverses PackByte/PackWord.
func Unpack(v int) Opt[int] {
	if v == 0 {
		return None[int]()
	}
	return Some(v - 1)
}

// PackBool encodes a nullable boolean: 0 NULL, 1 FALSE, 2 TRUE.
func PackBool(v Opt[bool]) byte {
	x, ok := v.Get()
	if !ok {
		return 0x00
	}
	if x {
		return 0x02
	}
	return 0x01
}

// PackCellVoltage folds a cell voltage in mV (2500..4550) into one byte.
func PackCellVoltage(mv Opt[int]) byte {
	x, ok := mv.Get()
	if !ok {
		return 0
	}
	return byte(1 + x/10 - 250)
}

// PackVoltage encodes volts as centivolts+1.
func PackVoltage(v Opt[float32]) uint16 {
	x, ok := v.Get()
	if !ok {
		return 0
	}
	return uint16(100*x) + 1
}

// PackTemperature encodes a sensor temperature; the probe's disabled marker
// (140) also maps to NULL.
func PackTemperature(v Opt[int]) byte {
	x, ok := v.Get()
	if !ok || x == 140 {
		return 0
	}
	return byte(x + 1)
}

// PackVersion folds "major.minor.patch" into one byte: major:1|minor:4|patch:3.
func PackVersion(version string) byte {
	var parts [3]int
	idx := 0
	for i := 0; i < len(version) && idx < 3; i++ {
		c := version[i]
		switch {
		case c >= '0' && c <= '9':
			parts[idx] = parts[idx]*10 + int(c-'0')
		case c == '.':
			idx++
		}
	}
	return byte((parts[0]&0x01)<<7 | (parts[1]&0x0F)<<3 | parts[2]&0x07)
}
