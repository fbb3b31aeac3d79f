package ats

import (
	"testing"
	"time"

	"powerbox-go/hal/haltest"
	"powerbox-go/logging"
	"powerbox-go/state"
)

func newRig(t *testing.T) (*Controller, *haltest.FakePin, *haltest.FakePin) {
	t.Helper()
	nc := haltest.NewFakePin(13)
	no := haltest.NewFakePin(14)
	c := New(Config{
		NCPin: nc,
		NOPin: no,
		Log:   logging.New(logging.LevelCritical),
		State: state.Config{StatePeriod: 10 * time.Millisecond},
	})
	return c, nc, no
}

func TestModeMapping(t *testing.T) {
	c, nc, no := newRig(t)
	c.Enable()

	// NC=1, NO=0 -> GRID
	nc.Fire(true)
	if c.State().Mode() != ModeGrid {
		t.Fatalf("mode = %v, want grid", c.State().Mode())
	}

	// NC=0, NO=1 -> BATTERY
	nc.Set(false)
	no.Fire(true)
	if c.State().Mode() != ModeBattery {
		t.Fatalf("mode = %v, want battery", c.State().Mode())
	}

	// Both high -> NONE
	nc.Fire(true)
	if c.State().Mode() != ModeNone {
		t.Fatalf("mode = %v, want none", c.State().Mode())
	}
}

func TestChangeNotifiesOnlyOnTransition(t *testing.T) {
	c, nc, _ := newRig(t)
	c.Enable()
	changes := 0
	c.State().AddCallback(state.EventChange, func() { changes++ })

	nc.Fire(true) // -> GRID
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}
	// Same derived mode again: no notification.
	nc.Set(false)
	nc.Fire(true)
	if changes != 1 {
		t.Fatalf("repeat mode fired change: %d", changes)
	}
}

func TestDisableStopsEdges(t *testing.T) {
	c, nc, _ := newRig(t)
	c.Enable()
	if !c.Enabled() {
		t.Fatal("not enabled")
	}
	c.Disable()
	if c.Enabled() {
		t.Fatal("still enabled")
	}

	nc.Fire(true)
	if c.State().Mode() != ModeNone {
		t.Fatal("edge processed while disabled")
	}
}

func TestSetEnabledFollowsProfile(t *testing.T) {
	c, _, _ := newRig(t)
	c.SetEnabled(true)
	if !c.Enabled() {
		t.Fatal("enable via profile failed")
	}
	c.SetEnabled(true) // idempotent
	c.SetEnabled(false)
	if c.Enabled() {
		t.Fatal("disable via profile failed")
	}
}
