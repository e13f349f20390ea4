package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Deadline      string     `json:"standby_deadline,omitempty"`
	PoweredOn     bool       `json:"powered_on"`
	LastPresence  string     `json:"last_presence,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Bus           BusStatus  `json:"bus"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// BusStatus reports CEC bus connection state.
type BusStatus struct {
	Connected  bool   `json:"connected"`
	Adapter    string `json:"adapter"`
	Reconnects int    `json:"reconnects"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Wake            int `json:"wake"`
	Presence        int `json:"presence"`
	Standby         int `json:"standby"`
	PowerOnFailures int `json:"power_on_failures"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Pin         int    `json:"pin"`
	TickMs      int64  `json:"tick_ms"`
	StandbyMs   int64  `json:"standby_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	PollPin     bool   `json:"poll_pin"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		State:         state,
		Deadline:      formatTime(snap.Deadline),
		PoweredOn:     snap.PoweredOn,
		LastPresence:  formatTime(snap.LastPresence),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Bus: BusStatus{
			Connected:  snap.BusConnected,
			Adapter:    snap.BusAdapter,
			Reconnects: snap.BusReconnects,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Wake:            snap.Counts.Wake,
			Presence:        snap.Counts.Presence,
			Standby:         snap.Counts.Standby,
			PowerOnFailures: snap.Counts.PowerOnFailures,
		},
		Config: ConfigJSON{
			Pin:         snap.Config.Pin,
			TickMs:      snap.Config.TickMs,
			StandbyMs:   snap.Config.StandbyMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			PollPin:     snap.Config.PollPin,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
