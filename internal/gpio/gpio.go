// Package gpio provides motion sensor input with hardware abstraction.
// The real implementation uses the Linux GPIO character device and delivers
// rising edges through a callback. The fake implementation allows testing
// without hardware.
package gpio

// Sensor is a motion sensor input line.
type Sensor interface {
	// Value returns the current raw level of the line (true = motion).
	Value() (bool, error)

	// Close releases GPIO resources. No motion callbacks run after Close returns.
	Close() error
}

// DefaultPin is the BCM pin the PIR sensor output is wired to.
const DefaultPin = 17
