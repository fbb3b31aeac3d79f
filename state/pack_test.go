package state

import "testing"

func TestPackByteNullable(t *testing.T) {
	if got := PackByte(None[int]()); got != 0x00 {
		t.Fatalf("null = %#x, want 0", got)
	}
	if got := PackByte(Some(0)); got != 0x01 {
		t.Fatalf("0 = %#x, want 1", got)
	}
	if got := PackByte(Some(66)); got != 67 {
		t.Fatalf("66 = %d, want 67", got)
	}
}

func TestUnpackRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 67, 200} {
		got, ok := Unpack(int(PackByte(Some(v)))).Get()
		if !ok || got != v {
			t.Fatalf("round trip %d -> %d ok=%v", v, got, ok)
		}
	}
	if Unpack(0).OK() {
		t.Fatal("unpack(0) should be null")
	}
}

func TestPackBool(t *testing.T) {
	cases := []struct {
		in   Opt[bool]
		want byte
	}{
		{None[bool](), 0x00},
		{Some(false), 0x01},
		{Some(true), 0x02},
	}
	for _, c := range cases {
		if got := PackBool(c.in); got != c.want {
			t.Fatalf("PackBool(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPackCellVoltage(t *testing.T) {
	// 3280 mV -> 1 + 328 - 250 = 79
	if got := PackCellVoltage(Some(3280)); got != 79 {
		t.Fatalf("3280mV = %d, want 79", got)
	}
	if got := PackCellVoltage(Some(2500)); got != 1 {
		t.Fatalf("2500mV = %d, want 1", got)
	}
	if got := PackCellVoltage(None[int]()); got != 0 {
		t.Fatalf("null = %d, want 0", got)
	}
}

func TestPackTemperatureDisabledProbe(t *testing.T) {
	if got := PackTemperature(Some(140)); got != 0 {
		t.Fatalf("disabled probe = %d, want 0", got)
	}
	if got := PackTemperature(Some(27)); got != 28 {
		t.Fatalf("27C = %d, want 28", got)
	}
}

func TestPackVoltage(t *testing.T) {
	if got := PackVoltage(Some[float32](2.3)); got != 231 {
		t.Fatalf("2.3V = %d, want 231", got)
	}
	if got := PackVoltage(None[float32]()); got != 0 {
		t.Fatalf("null = %d, want 0", got)
	}
}

func TestPackVersion(t *testing.T) {
	// 1.4.2 -> 1<<7 | 4<<3 | 2
	want := byte(1<<7 | 4<<3 | 2)
	if got := PackVersion("1.4.2"); got != want {
		t.Fatalf("1.4.2 = %#x, want %#x", got, want)
	}
	if got := PackVersion("0.15.7"); got != byte(15<<3|7) {
		t.Fatalf("0.15.7 = %#x", got)
	}
}
