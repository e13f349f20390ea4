// Package logic contains the pure presence-driven power state machine.
// This package has NO external dependencies (no GPIO, CEC, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the power state the controller believes the display is in.
type State string

const (
	StateOn      State = "ON"
	StateStandby State = "STANDBY"
)

// PowerStatus is the answer to a power status query on the bus.
type PowerStatus string

const (
	PowerStatusOn                  PowerStatus = "on"
	PowerStatusStandby             PowerStatus = "standby"
	PowerStatusTransitionToOn      PowerStatus = "in transition standby to on"
	PowerStatusTransitionToStandby PowerStatus = "in transition on to standby"
	PowerStatusUnknown             PowerStatus = "unknown"
)

// LogicalAddress is a CEC logical address (0-15).
type LogicalAddress uint8

// AddressTV is logical address 0, the display.
const AddressTV LogicalAddress = 0

// DeviceType is the CEC device type a client registers as.
type DeviceType string

const (
	DeviceTypeTV        DeviceType = "tv"
	DeviceTypeRecording DeviceType = "recording"
	DeviceTypeTuner     DeviceType = "tuner"
	DeviceTypePlayback  DeviceType = "playback"
	DeviceTypeAudio     DeviceType = "audio"
)

// Bus is the set of device bus commands the controller drives.
// All commands are best-effort and must return within a bounded time.
type Bus interface {
	// PowerOn asks target to power on. Returns whether the device acknowledged.
	PowerOn(target LogicalAddress) bool

	// Standby asks target to go to standby. Failures are not reported.
	Standby(target LogicalAddress)

	// SetActiveSource announces this device as the active input source.
	SetActiveSource(deviceType DeviceType)

	// GetPowerStatus queries target. Ambiguous answers return PowerStatusUnknown.
	GetPowerStatus(target LogicalAddress) PowerStatus
}

// EventType represents something the controller did on a tick.
type EventType string

const (
	EventPowerOn  EventType = "POWER_ON" // startup power on
	EventWake     EventType = "WAKE"     // STANDBY -> ON on presence
	EventPresence EventType = "PRESENCE" // ON -> ON on presence
	EventStandby  EventType = "STANDBY"  // ON -> STANDBY on idle timeout
)

// Event describes a controller decision, to be logged and published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
	Deadline  time.Time
	// Status is the queried power status (presence events only).
	Status PowerStatus
	// PowerOnSent is true if a PowerOn command was issued.
	PowerOnSent bool
	// PowerOnAck is the result of PowerOn when PowerOnSent is true.
	PowerOnAck bool
}

// Input represents a single control loop tick.
type Input struct {
	Presence bool // motion observed since the previous tick
	Time     time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Wake            int
	Presence        int
	Standby         int
	PowerOnFailures int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
