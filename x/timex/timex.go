// Package timex holds thin time helpers shared by interrupt-adjacent code.
package timex

import "time"

// NowMs returns Unix milliseconds. IRQ handlers compare these instead of
// keeping time.Time values.
func NowMs() int64 { return time.Now().UnixMilli() }
