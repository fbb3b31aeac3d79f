package state

import (
	"testing"
	"time"
)

func newTestBase() *Base {
	return NewBase(Config{Name: "TEST", StatePeriod: 10 * time.Millisecond})
}

func countEvents(b *Base, ev Event) *int {
	n := new(int)
	b.AddCallback(ev, func() { *n++ })
	return n
}

func TestSetErrorIdempotent(t *testing.T) {
	b := newTestBase()
	changes := countEvents(b, EventChange)

	b.SetError(BitNoResponse)
	if !b.HasError(BitNoResponse) {
		t.Fatal("bit not set")
	}
	if *changes != 1 {
		t.Fatalf("changes = %d, want 1", *changes)
	}

	b.SetError(BitNoResponse)
	if *changes != 1 {
		t.Fatalf("duplicate set fired CHANGE: changes = %d", *changes)
	}

	b.ResetError(BitNoResponse)
	if *changes != 2 {
		t.Fatalf("changes = %d, want 2", *changes)
	}
	b.ResetError(BitNoResponse)
	if *changes != 2 {
		t.Fatalf("reset of cleared bit fired CHANGE: changes = %d", *changes)
	}
}

func TestOnOffSymmetry(t *testing.T) {
	b := newTestBase()
	ons := countEvents(b, EventOn)
	offs := countEvents(b, EventOff)

	b.On()
	b.Off()

	if b.Active() {
		t.Fatal("active after off")
	}
	if *ons != 1 || *offs != 1 {
		t.Fatalf("ons=%d offs=%d, want 1/1", *ons, *offs)
	}
}

func TestOnFiresOnThenChange(t *testing.T) {
	b := newTestBase()
	var order []string
	b.AddCallback(EventOn, func() { order = append(order, "on") })
	b.AddCallback(EventChange, func() { order = append(order, "change") })

	b.On()

	if len(order) != 2 || order[0] != "on" || order[1] != "change" {
		t.Fatalf("order = %v, want [on change]", order)
	}
}

func TestCallbackRegistrationOrder(t *testing.T) {
	b := newTestBase()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.AddCallback(EventChange, func() { order = append(order, i) })
	}
	b.Trigger(EventChange)
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestClearInternalErrors(t *testing.T) {
	b := newTestBase()
	changes := countEvents(b, EventChange)

	b.ClearInternalErrors()
	if *changes != 0 {
		t.Fatal("clear of empty bitmap notified")
	}

	b.SetError(BitException)
	b.SetError(BitPin)
	before := *changes
	b.ClearInternalErrors()
	if b.InternalErrors() != 0 {
		t.Fatal("bitmap not cleared")
	}
	if *changes != before+1 {
		t.Fatalf("clear fired %d notifications, want 1", *changes-before)
	}
}

func TestSnapshotHealthTimeout(t *testing.T) {
	b := NewBase(Config{
		Name:        "TEST",
		StatePeriod: time.Millisecond,
		HealthGrace: 10 * time.Millisecond,
	})

	b.Snapshot() // first tick establishes the timestamp
	if b.HasError(BitTimeout) {
		t.Fatal("timeout set on first snapshot")
	}

	time.Sleep(25 * time.Millisecond) // past period + grace
	b.Snapshot()
	if !b.HasError(BitTimeout) {
		t.Fatal("timeout not set after stall")
	}

	b.Snapshot() // prompt tick clears it again
	if b.HasError(BitTimeout) {
		t.Fatal("timeout not cleared after recovery")
	}
}

func TestFailRetainsException(t *testing.T) {
	b := newTestBase()
	cause := errString("boom")
	b.Fail(cause)
	if !b.HasError(BitException) {
		t.Fatal("exception bit not set")
	}
	if b.LastException() != cause {
		t.Fatal("exception not retained")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestSetExternalErrors(t *testing.T) {
	b := newTestBase()
	b.SetExternalErrors(0x0004)
	if !b.HasError(BitExternal) {
		t.Fatal("external bit not set")
	}
	if b.ExternalErrors() != 0x0004 {
		t.Fatal("word not stored")
	}
	b.SetExternalErrors(0)
	if b.HasError(BitExternal) {
		t.Fatal("external bit not cleared")
	}
}

type recordingSink struct {
	states    [][]byte
	histories [][]byte
}

func (r *recordingSink) NotifyState(p []byte)   { r.states = append(r.states, append([]byte(nil), p...)) }
func (r *recordingSink) NotifyHistory(p []byte) { r.histories = append(r.histories, append([]byte(nil), p...)) }

func TestNotifyPushesWireState(t *testing.T) {
	payload := []byte{0x01, 0x02}
	b := NewBase(Config{
		Name:        "TEST",
		StatePeriod: time.Millisecond,
		Wire:        func() []byte { return payload },
	})
	sink := &recordingSink{}
	b.AttachSink(sink)

	b.Notify()
	if len(sink.states) != 1 || sink.states[0][0] != 0x01 {
		t.Fatalf("sink got %v", sink.states)
	}
}
