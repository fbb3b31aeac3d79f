package logging

import (
	"strings"
	"testing"
)

type captureSink struct {
	lines []string
}

func (c *captureSink) WriteLog(line []byte) {
	c.lines = append(c.lines, string(line))
}

func TestLevelFiltering(t *testing.T) {
	l := New(LevelWarning)
	sink := &captureSink{}
	l.Attach(sink)

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warning("kept")
	l.Error("kept as well")

	if len(sink.lines) != 2 {
		t.Fatalf("lines = %v", sink.lines)
	}
	if !strings.HasPrefix(sink.lines[0], "[WRN] ") {
		t.Fatalf("tag missing: %q", sink.lines[0])
	}
}

func TestPartRendering(t *testing.T) {
	l := New(LevelTrace)
	sink := &captureSink{}
	l.Attach(sink)

	l.Info("value", 42, true, []byte{0xAE, 0x01}, float32(3.45))

	got := sink.lines[0]
	for _, want := range []string{"value", "42", "true", "AE 01", "3.45"} {
		if !strings.Contains(got, want) {
			t.Fatalf("line %q missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "\n") {
		t.Fatal("line not terminated")
	}
}

func TestNegativeFixedPoint(t *testing.T) {
	l := New(LevelTrace)
	sink := &captureSink{}
	l.Attach(sink)
	l.Info(float32(-2.5))
	if !strings.Contains(sink.lines[0], "-2.50") {
		t.Fatalf("line = %q", sink.lines[0])
	}
}

func TestAttachDetach(t *testing.T) {
	l := New(LevelTrace)
	sink := &captureSink{}
	l.Attach(sink)
	l.Attach(sink) // duplicate is a no-op
	l.Info("one")
	if len(sink.lines) != 1 {
		t.Fatalf("duplicate attach doubled delivery: %v", sink.lines)
	}
	l.Detach(sink)
	l.Info("two")
	if len(sink.lines) != 1 {
		t.Fatal("sink still attached after detach")
	}
}
