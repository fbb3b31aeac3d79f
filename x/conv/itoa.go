// Package conv holds allocation-free numeric formatting for log lines and
// frame dumps. No fmt/strconv on the hot path.
package conv

// Itoa writes the base-10 representation of n into buf and returns the used
// slice. buf should be at least 20 bytes for int64.
func Itoa(buf []byte, n int64) []byte {
	if len(buf) == 0 {
		return buf[:0]
	}
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	out := appendDigits(buf, u)
	if neg && len(out) < len(buf) {
		i := len(buf) - len(out) - 1
		buf[i] = '-'
		return buf[i:]
	}
	return out
}

// Utoa is Itoa for unsigned values.
func Utoa(buf []byte, n uint64) []byte {
	return appendDigits(buf, n)
}

// appendDigits writes digits backwards from the end of buf.
func appendDigits(buf []byte, u uint64) []byte {
	i := len(buf)
	if u == 0 {
		i--
		buf[i] = '0'
		return buf[i:]
	}
	for u > 0 && i > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return buf[i:]
}
