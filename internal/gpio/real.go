//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealSensor watches a PIR sensor line on actual hardware using the Linux GPIO
// character device.
type RealSensor struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealSensor requests pin as an input and calls onMotion from the gpiocdev
// event goroutine on every rising edge. A non-zero debounce enables kernel
// debouncing of the line.
func NewRealSensor(pin int, debounce time.Duration, onMotion func()) (*RealSensor, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			onMotion()
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request motion pin %d: %w", pin, err)
	}

	return &RealSensor{
		chip: chip,
		line: line,
	}, nil
}

// Value returns the current level of the sensor line.
func (s *RealSensor) Value() (bool, error) {
	v, err := s.line.Value()
	if err != nil {
		return false, fmt.Errorf("read motion pin: %w", err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing, which also drops edge detection.
func (s *RealSensor) Close() error {
	var errs []error

	if s.line != nil {
		if err := s.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure motion pin: %w", err))
		}
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close motion pin: %w", err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
