// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/presence-cec/internal/logic"
)

// Topic is the MQTT topic for display power events.
const Topic = "home/display/presence/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/display/presence/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a display power event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "BUS_LOST"
	Reason     string // e.g., "SIGTERM", "SIGINT", "BUS_LOST"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Display DisplayPayload `json:"display"`
}

// DisplayPayload contains the power event details.
type DisplayPayload struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	State       string `json:"state"`
	Deadline    string `json:"standby_deadline"`
	PowerStatus string `json:"power_status,omitempty"`
	PowerOnSent bool   `json:"power_on_sent"`
	PowerOnAck  bool   `json:"power_on_ack"`
}

// FormatPayload creates the JSON payload for a power event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Display: DisplayPayload{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Event:       string(event.Type),
			State:       string(event.State),
			Deadline:    event.Deadline.UTC().Format(time.RFC3339Nano),
			PowerStatus: string(event.Status),
			PowerOnSent: event.PowerOnSent,
			PowerOnAck:  event.PowerOnAck,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
