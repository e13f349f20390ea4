// Package cec owns the connection to the HDMI-CEC bus.
// The real transport drives a long-running cec-client process.
// The fake transport allows testing without an adapter.
package cec

import (
	"errors"
	"strings"

	"github.com/sweeney/presence-cec/internal/logic"
)

// Errors returned by this package. Use errors.Is to check for them.
var (
	// ErrConnection is returned when an adapter cannot be opened.
	ErrConnection = errors.New("cec: connection failed")

	// ErrNoAdapter is returned when adapter detection finds nothing.
	ErrNoAdapter = errors.New("cec: no adapter found")

	// ErrFatal is reported when a lost connection could not be re-established.
	ErrFatal = errors.New("cec: connection lost and not recoverable")
)

// Conn is one open connection to a CEC adapter.
type Conn interface {
	// PowerOn sends "image view on" to target and reports whether it was acknowledged.
	PowerOn(target logic.LogicalAddress) bool

	// Standby sends "standby" to target.
	Standby(target logic.LogicalAddress) bool

	// SetActiveSource announces this client as the active source.
	SetActiveSource(deviceType logic.DeviceType) bool

	// PowerStatus queries target's power status.
	PowerStatus(target logic.LogicalAddress) logic.PowerStatus

	// Lost delivers at most one error if the connection drops without Close
	// being called. The channel is closed once the connection is gone.
	Lost() <-chan error

	// Close releases the adapter.
	Close() error
}

// Dialer opens a connection to the adapter at address.
type Dialer func(address string) (Conn, error)

// ParsePowerStatus maps a cec-client power status string to a PowerStatus.
// Anything unrecognised is PowerStatusUnknown.
func ParsePowerStatus(s string) logic.PowerStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "on":
		return logic.PowerStatusOn
	case s == "standby":
		return logic.PowerStatusStandby
	case strings.Contains(s, "standby to on"):
		return logic.PowerStatusTransitionToOn
	case strings.Contains(s, "on to standby"):
		return logic.PowerStatusTransitionToStandby
	default:
		return logic.PowerStatusUnknown
	}
}

// TypeFlag returns the cec-client -t argument for a device type.
func TypeFlag(t logic.DeviceType) string {
	switch t {
	case logic.DeviceTypePlayback:
		return "p"
	case logic.DeviceTypeTuner:
		return "t"
	case logic.DeviceTypeAudio:
		return "a"
	case logic.DeviceTypeTV:
		return "x"
	default:
		return "r"
	}
}
