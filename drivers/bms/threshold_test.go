package bms

import (
	"testing"

	"powerbox-go/hal/haltest"
	"powerbox-go/logging"
	"powerbox-go/state"
)

func feedFrame(t *testing.T, c *Controller, port *haltest.FakePort, g golden) {
	t.Helper()
	port.QueueReply(g.frame())
	if !c.RequestStatus() {
		t.Fatal("frame rejected")
	}
}

// One cell above max for exactly two ticks must not fire; three consecutive
// ticks fire BATTERY_CHARGED exactly once per crossing.
func TestOverVoltageDebounce(t *testing.T) {
	c, port := newController(t)
	charged := 0
	c.State().AddCallback(state.EventBatteryCharged, func() { charged++ })

	high := defaultGolden()
	high.cells[1] = 3600 // above 3.5 V
	normal := defaultGolden()

	feedFrame(t, c, port, high)
	feedFrame(t, c, port, high)
	if charged != 0 {
		t.Fatalf("fired after 2 ticks: %d", charged)
	}
	feedFrame(t, c, port, normal)
	feedFrame(t, c, port, high)
	feedFrame(t, c, port, high)
	if charged != 0 {
		t.Fatal("counter not reset by a normal tick")
	}
	feedFrame(t, c, port, high)
	if charged != 1 {
		t.Fatalf("charged = %d, want 1 after 3 consecutive ticks", charged)
	}

	// Still high: must not refire.
	feedFrame(t, c, port, high)
	feedFrame(t, c, port, high)
	if charged != 1 {
		t.Fatalf("refired while latched: %d", charged)
	}

	// Recover, then cross again: fires once more.
	feedFrame(t, c, port, normal)
	feedFrame(t, c, port, high)
	feedFrame(t, c, port, high)
	feedFrame(t, c, port, high)
	if charged != 2 {
		t.Fatalf("charged = %d, want 2 after second crossing", charged)
	}
}

// Low-voltage cutoff: three consecutive under-voltage ticks fire
// BATTERY_DISCHARGED once, and same-voltage frames do not refire it.
func TestUnderVoltageCutoff(t *testing.T) {
	c, port := newController(t)
	discharged := 0
	c.State().AddCallback(state.EventBatteryDischarged, func() { discharged++ })

	low := defaultGolden()
	low.cells[0] = 2700 // below 2.75 V

	for i := 0; i < 3; i++ {
		feedFrame(t, c, port, low)
	}
	if discharged != 1 {
		t.Fatalf("discharged = %d, want 1", discharged)
	}
	for i := 0; i < 3; i++ {
		feedFrame(t, c, port, low)
	}
	if discharged != 1 {
		t.Fatalf("refired at same voltage: %d", discharged)
	}
}

// The min and max counters are independent: an over-voltage streak must not
// be disturbed by an unrelated under-voltage cell appearing mid-stream.
func TestIndependentCounters(t *testing.T) {
	c, port := newController(t)
	charged, discharged := 0, 0
	c.State().AddCallback(state.EventBatteryCharged, func() { charged++ })
	c.State().AddCallback(state.EventBatteryDischarged, func() { discharged++ })

	both := defaultGolden()
	both.cells[0] = 2700
	both.cells[3] = 3600

	for i := 0; i < 3; i++ {
		feedFrame(t, c, port, both)
	}
	if charged != 1 || discharged != 1 {
		t.Fatalf("charged=%d discharged=%d, want 1/1", charged, discharged)
	}
}

// BATTERY_CHARGED resets the accumulated self-consumption: the pack is
// known-full.
func TestChargedResetsSelfConsumption(t *testing.T) {
	port := haltest.NewFakePort()
	persisted := float32(-1)
	c := New(Config{
		Port:                   port,
		Log:                    logging.New(logging.LevelCritical),
		SelfConsumptionAh:      2.5,
		PersistSelfConsumption: func(ah float32) { persisted = ah },
	})
	if c.State().SelfConsumption() != 2.5 {
		t.Fatal("restored value lost")
	}

	high := defaultGolden()
	high.cells[0] = 3600
	for i := 0; i < 3; i++ {
		feedFrame(t, c, port, high)
	}
	if c.State().SelfConsumption() != 0 {
		t.Fatal("self consumption not reset on BATTERY_CHARGED")
	}
	if persisted != 0 {
		t.Fatalf("persist hook got %v, want 0", persisted)
	}
}

// The reported SOC is reduced by the accumulated idle draw.
func TestSOCAdjustedForSelfConsumption(t *testing.T) {
	port := haltest.NewFakePort()
	c := New(Config{
		Port:              port,
		Log:               logging.New(logging.LevelCritical),
		SelfConsumptionAh: 5, // 5 Ah of a 100 Ah pack -> 5 SOC points
	})
	feedFrame(t, c, port, defaultGolden())
	if got := c.State().SOC().Or(-1); got != 62 {
		t.Fatalf("adjusted soc = %d, want 62", got)
	}
}
