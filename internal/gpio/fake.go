package gpio

import (
	"errors"
	"sync"
)

// FakeSensor is a test double that delivers motion on demand and returns
// scripted line levels.
type FakeSensor struct {
	mu       sync.Mutex
	onMotion func()

	// Values contains scripted line levels. Each call to Value() consumes the
	// next one; the last is repeated once exhausted.
	Values []bool
	index  int

	// ValueError, if set, will be returned by Value()
	ValueError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeSensor creates a FakeSensor that calls onMotion from Trigger.
func NewFakeSensor(onMotion func()) *FakeSensor {
	return &FakeSensor{onMotion: onMotion}
}

// Trigger simulates a rising edge. Ignored after Close.
func (f *FakeSensor) Trigger() {
	f.mu.Lock()
	closed := f.Closed
	f.mu.Unlock()
	if closed || f.onMotion == nil {
		return
	}
	f.onMotion()
}

// Value returns the next scripted level.
func (f *FakeSensor) Value() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ValueError != nil {
		return false, f.ValueError
	}
	if len(f.Values) == 0 {
		return false, errors.New("no values configured")
	}

	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the sensor as closed.
func (f *FakeSensor) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
