package bms

import (
	"encoding/binary"
	"testing"

	"powerbox-go/hal/haltest"
	"powerbox-go/logging"
	"powerbox-go/state"
)

// golden describes one synthetic status response.
type golden struct {
	cells    [4]int
	mos      int
	sensor1  int
	sensor2  int
	voltage  int
	current  int
	soc      int
	external int
	devState int
	capacity int
}

func defaultGolden() golden {
	return golden{
		cells:    [4]int{3280, 3279, 3281, 3278},
		mos:      27,
		sensor1:  25,
		sensor2:  26,
		voltage:  1312, // centivolts
		current:  0x0123,
		soc:      67,
		devState: 0x03,
		capacity: 100,
	}
}

func (g golden) frame() []byte {
	out := []byte{0x4E, 0x57, 0x00, 0x00}

	u16 := func(desc byte, v int) {
		out = append(out, desc)
		out = binary.BigEndian.AppendUint16(out, uint16(v))
	}
	u8 := func(desc byte, v int) {
		out = append(out, desc, byte(v))
	}
	u32 := func(desc byte, v int) {
		out = append(out, desc)
		out = binary.BigEndian.AppendUint32(out, uint32(v))
	}

	out = append(out, 0x79, 12)
	for i, mv := range g.cells {
		out = append(out, byte(i+1))
		out = binary.BigEndian.AppendUint16(out, uint16(mv))
	}
	u16(0x80, g.mos)
	u16(0x81, g.sensor1)
	u16(0x82, g.sensor2)
	u16(0x83, g.voltage)
	u16(0x84, g.current)
	u8(0x85, g.soc)
	u8(0x86, 3)
	u16(0x87, 12)
	u32(0x89, 4200)
	u16(0x8A, 4)
	u16(0x8B, g.external)
	u16(0x8C, g.devState)
	for i := 0; i < 15; i++ {
		u16(byte(0x8E+i), 100+i)
	}
	u32(0xAA, g.capacity)

	binary.BigEndian.PutUint16(out[2:], uint16(len(out)))
	return out
}

func newController(t *testing.T) (*Controller, *haltest.FakePort) {
	t.Helper()
	port := haltest.NewFakePort()
	c := New(Config{
		Port: port,
		Log:  logging.New(logging.LevelCritical),
	})
	return c, port
}

func TestParseGoldenFrame(t *testing.T) {
	c, port := newController(t)
	changes := 0
	c.State().AddCallback(state.EventChange, func() { changes++ })

	port.QueueReply(defaultGolden().frame())
	if !c.RequestStatus() {
		t.Fatal("golden frame rejected")
	}

	s := c.State()
	wantCells := [4]int{3280, 3279, 3281, 3278}
	for i, want := range wantCells {
		if got := s.Cell(i).Or(-1); got != want {
			t.Fatalf("cell[%d] = %d, want %d", i, got, want)
		}
	}
	if got := s.SOC().Or(-1); got != 67 {
		t.Fatalf("soc = %d, want 67", got)
	}
	if got := s.MOSTemperature().Or(-1); got != 27 {
		t.Fatalf("mos = %d, want 27", got)
	}
	if got := s.Voltage().Or(-1); got != 1312 {
		t.Fatalf("voltage = %d", got)
	}
	if s.ExternalErrors() != 0 {
		t.Fatalf("external = %d, want 0", s.ExternalErrors())
	}
	if v, _ := s.ChargingAllowed().Get(); !v {
		t.Fatal("charge not allowed")
	}
	if v, _ := s.DischargingAllowed().Get(); !v {
		t.Fatal("discharge not allowed")
	}
	if s.HasError(state.BitNoResponse) {
		t.Fatal("NO_RESPONSE set after good frame")
	}
	// One CHANGE from clearing the boot-time error state would be zero here;
	// a clean parse leaves the bitmap untouched, so no CHANGE yet.
	if changes != 0 {
		t.Fatalf("changes = %d during parse, want 0 until snapshot", changes)
	}
	c.State().Snapshot()
	if changes != 1 {
		t.Fatalf("changes = %d after snapshot, want 1", changes)
	}
	if s.Active() {
		t.Fatal("active flag must stay unchanged by a status parse")
	}
}

func TestExternalErrorsSetBit(t *testing.T) {
	c, port := newController(t)
	g := defaultGolden()
	g.external = 0x0040
	port.QueueReply(g.frame())
	if !c.RequestStatus() {
		t.Fatal("frame rejected")
	}
	if c.State().ExternalErrors() != 0x0040 {
		t.Fatalf("external = %#x", c.State().ExternalErrors())
	}
	if !c.State().HasError(state.BitExternal) {
		t.Fatal("EXTERNAL bit not set")
	}
}

func TestEmptyReplySetsNoResponse(t *testing.T) {
	c, port := newController(t)
	_ = port
	if c.RequestStatus() {
		t.Fatal("empty reply accepted")
	}
	if !c.State().HasError(state.BitNoResponse) {
		t.Fatal("NO_RESPONSE not set")
	}
}

func TestParseFailureWipesState(t *testing.T) {
	c, port := newController(t)
	port.QueueReply(defaultGolden().frame())
	if !c.RequestStatus() {
		t.Fatal("golden frame rejected")
	}

	// Corrupt a descriptor byte at its expected offset.
	bad := defaultGolden().frame()
	for i, b := range bad {
		if b == 0x83 {
			bad[i] = 0x70
			break
		}
	}
	port.QueueReply(bad)
	if c.RequestStatus() {
		t.Fatal("corrupt frame accepted")
	}
	if !c.State().HasError(state.BitNoResponse) {
		t.Fatal("NO_RESPONSE not set after parse failure")
	}
	if c.State().SOC().OK() || c.State().Cell(0).OK() {
		t.Fatal("state not wiped after parse failure")
	}
}

func TestDirectionAndPower(t *testing.T) {
	c, port := newController(t)
	g := defaultGolden()
	g.current = 0x8000 | 250 // discharging, 2.5 A
	port.QueueReply(g.frame())
	if !c.RequestStatus() {
		t.Fatal("frame rejected")
	}
	if !c.State().Discharging() {
		t.Fatal("sign bit not detected")
	}
	// 2.5 A * 13.12 V = 32.8 W
	if got := c.State().Power(); got != 32 {
		t.Fatalf("power = %d, want 32", got)
	}
}

func TestModifyFramesAndNoResponse(t *testing.T) {
	c, port := newController(t)
	port.QueueReply([]byte{0x4E, 0x57, 0x01})
	if !c.EnableCharge() {
		t.Fatal("enable charge with reply failed")
	}
	got := port.LastWrite()
	if len(got) != len(enableCharge) {
		t.Fatalf("frame len = %d", len(got))
	}
	for i := range got {
		if got[i] != enableCharge[i] {
			t.Fatalf("frame[%d] = %#x", i, got[i])
		}
	}

	// No reply queued now: the modify must fail and set NO_RESPONSE.
	if c.DisableDischarge() {
		t.Fatal("modify without reply succeeded")
	}
	if !c.State().HasError(state.BitNoResponse) {
		t.Fatal("NO_RESPONSE not set")
	}
}
