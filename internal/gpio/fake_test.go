package gpio

import (
	"errors"
	"testing"

	"github.com/sweeney/presence-cec/internal/latch"
)

func TestFakeSensorTriggerRecordsIntoLatch(t *testing.T) {
	var motion latch.Latch
	f := NewFakeSensor(motion.Record)

	f.Trigger()
	f.Trigger()

	if !motion.ConsumeAndClear() {
		t.Error("expected motion after trigger")
	}
	if motion.ConsumeAndClear() {
		t.Error("two triggers should coalesce into one observation")
	}
}

func TestFakeSensorTriggerAfterClose(t *testing.T) {
	var motion latch.Latch
	f := NewFakeSensor(motion.Record)
	f.Close()

	f.Trigger()
	if motion.ConsumeAndClear() {
		t.Error("no motion should be delivered after Close")
	}
}

func TestFakeSensorValue(t *testing.T) {
	f := NewFakeSensor(nil)
	f.Values = []bool{false, true}

	v, err := f.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v {
		t.Error("value 0: expected false")
	}

	v, _ = f.Value()
	if !v {
		t.Error("value 1: expected true")
	}

	// Exhausted: repeats last
	v, _ = f.Value()
	if !v {
		t.Error("value 2 (repeat): expected true")
	}
}

func TestFakeSensorNoValues(t *testing.T) {
	f := NewFakeSensor(nil)
	if _, err := f.Value(); err == nil {
		t.Error("expected error with no values")
	}
}

func TestFakeSensorError(t *testing.T) {
	f := NewFakeSensor(nil)
	f.Values = []bool{true}
	f.ValueError = errors.New("simulated error")

	_, err := f.Value()
	if err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeSensorClose(t *testing.T) {
	f := NewFakeSensor(nil)
	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}
