package inverter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"powerbox-go/hal/haltest"
	"powerbox-go/logging"
	"powerbox-go/state"
)

func toBCD(v int) byte { return byte(v/10<<4 | v%10) }

// buildFrame assembles a valid 17-byte status frame.
func buildFrame(ac, power int, dcTenths int, temp, devError, level int) []byte {
	f := make([]byte, 17)
	f[0] = 0xAE
	f[1] = 0x01 // address
	f[2] = 0x12 // length
	f[3] = 0x83 // command
	f[4] = toBCD(ac / 100)
	f[5] = toBCD(ac % 100)
	f[6] = toBCD(power / 100)
	f[7] = toBCD(power % 100)
	f[8] = toBCD(dcTenths / 100)
	f[9] = toBCD(dcTenths % 100)
	f[10] = toBCD(temp / 100)
	f[11] = toBCD(temp % 100)
	f[12] = 0x00
	f[13] = toBCD(devError)
	f[14] = byte(level)

	sum := 0
	for _, i := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 14} {
		sum += int(f[i])
	}
	f[15] = toBCD(sum % 256 % 100)
	f[16] = 0xEE
	return f
}

func newTestState() *State {
	return NewState(logging.New(logging.LevelCritical), state.Config{StatePeriod: 10 * time.Millisecond})
}

func TestParseValidFrame(t *testing.T) {
	s := newTestState()
	s.ParseBuffer(buildFrame(222, 134, 241, 24, 0, 9))

	if !s.Valid() {
		t.Fatal("valid frame rejected")
	}
	if got := s.AC().Or(-1); got != 222 {
		t.Fatalf("ac = %d, want 222", got)
	}
	if got := s.Power().Or(-1); got != 134 {
		t.Fatalf("power = %d, want 134", got)
	}
	dc, _ := s.DC().Get()
	if dc < 24.0 || dc > 24.2 {
		t.Fatalf("dc = %v, want 24.1", dc)
	}
	if got := s.Temperature().Or(-1); got != 24 {
		t.Fatalf("temperature = %d", got)
	}
	if got := s.Level().Or(-1); got != 9 {
		t.Fatalf("level = %d", got)
	}
	if s.HasError(state.BitBadResponse) {
		t.Fatal("BAD_RESPONSE set for valid frame")
	}
}

// Any single-byte corruption must set BAD_RESPONSE and leave the previous
// values unchanged.
func TestChecksumCorruption(t *testing.T) {
	s := newTestState()
	good := buildFrame(222, 134, 241, 24, 0, 9)
	s.ParseBuffer(good)
	if !s.Valid() {
		t.Fatal("setup frame rejected")
	}

	for i := 4; i < 15; i++ {
		if i == 12 {
			continue // reserved byte, not covered by the checksum
		}
		bad := append([]byte(nil), good...)
		bad[i] ^= 0x01
		s.ParseBuffer(bad)
		if !s.HasError(state.BitBadResponse) {
			t.Fatalf("corruption at byte %d not flagged", i)
		}
		if got := s.AC().Or(-1); got != 222 {
			t.Fatalf("corruption at byte %d clobbered ac: %d", i, got)
		}
		if got := s.Power().Or(-1); got != 134 {
			t.Fatalf("corruption at byte %d clobbered power: %d", i, got)
		}
		// Feed the good frame again so the next iteration starts clean.
		s.ParseBuffer(good)
		if s.HasError(state.BitBadResponse) {
			t.Fatal("BAD_RESPONSE not cleared by valid frame")
		}
	}
}

func TestFrameExtractionFromBuffer(t *testing.T) {
	s := newTestState()
	buf := append([]byte{0x00, 0x11}, buildFrame(230, 50, 120, 31, 0, 5)...)
	buf = append(buf, 0x99)
	s.ParseBuffer(buf)
	if !s.Valid() {
		t.Fatal("frame not extracted from noisy buffer")
	}
}

// Bit 6 of the device error byte is the fan-rotation flag; a custom fan is
// fitted, so it must be masked off.
func TestFanRotationFlagMasked(t *testing.T) {
	s := newTestState()
	s.ParseBuffer(buildFrame(230, 50, 120, 31, 64+10, 5))
	if !s.Valid() {
		t.Fatal("frame rejected")
	}
	if s.ExternalErrors() != 10 {
		t.Fatalf("external = %d, want 10 (flag masked)", s.ExternalErrors())
	}
}

func newTestController(t *testing.T, settle time.Duration) (*Controller, *haltest.FakePort, *haltest.FakePin) {
	t.Helper()
	port := haltest.NewFakePort()
	gate := haltest.NewFakePin(39)
	c := New(Config{
		Port:    port,
		GatePin: gate,
		Log:     logging.New(logging.LevelCritical),
		State:   state.Config{StatePeriod: 30 * time.Millisecond},
		Settle:  settle,
	})
	return c, port, gate
}

func TestOnOffGateAndState(t *testing.T) {
	c, _, gate := newTestController(t, time.Second)
	c.On()
	if !gate.Get() {
		t.Fatal("gate not energized")
	}
	if c.Stage() != StageBootstrapping {
		t.Fatal("not bootstrapping after on")
	}
	if !c.State().Active() {
		t.Fatal("state not active")
	}

	c.Off()
	if gate.Get() {
		t.Fatal("gate must read low after off")
	}
	if c.State().Active() {
		t.Fatal("still active")
	}
	if c.State().AC().OK() {
		t.Fatal("fields not cleared on off")
	}
}

func TestOffWhenInactiveIsNoOp(t *testing.T) {
	c, _, _ := newTestController(t, time.Second)
	offs := 0
	c.State().AddCallback(state.EventOff, func() { offs++ })
	c.Off()
	if offs != 0 {
		t.Fatal("off event fired for inactive inverter")
	}
}

// No status request may be written during the settle delay; the first one
// goes out right after it elapses.
func TestBootstrappingSettleDelay(t *testing.T) {
	c, port, _ := newTestController(t, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.On() // writes the turn-on frame only

	time.Sleep(120 * time.Millisecond)
	if countStatusWrites(port) != 0 {
		t.Fatal("status request during settle delay")
	}

	deadline := time.Now().Add(2 * time.Second)
	for countStatusWrites(port) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := countStatusWrites(port); n == 0 {
		t.Fatal("no status request after settle")
	}
}

func countStatusWrites(port *haltest.FakePort) int {
	n := 0
	for _, w := range port.WritesSnapshot() {
		if bytes.Equal(w, statusRequest) {
			n++
		}
	}
	return n
}
