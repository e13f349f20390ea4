// Package status provides a thread-safe status tracker for the presence-cec daemon.
// It is written by the control loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/presence-cec/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Pin         int
	TickMs      int64
	StandbyMs   int64
	HeartbeatMs int64
	PollPin     bool
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	State         logic.State
	Deadline      time.Time
	PoweredOn     bool
	Counts        logic.EventCounts
	LastPresence  time.Time
	BusAdapter    string
	BusConnected  bool
	BusReconnects int
	MQTTConnected bool
	StartTime     time.Time
	Now           time.Time
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the controller state. Called from runLoop on every tick.
func (t *Tracker) Update(state logic.State, deadline time.Time, poweredOn bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Deadline = deadline
	t.snap.PoweredOn = poweredOn
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetLastPresence records when presence was last observed.
func (t *Tracker) SetLastPresence(at time.Time) {
	t.mu.Lock()
	t.snap.LastPresence = at
	t.mu.Unlock()
}

// SetBus sets the bus adapter and connection status.
func (t *Tracker) SetBus(adapter string, connected bool, reconnects int) {
	t.mu.Lock()
	t.snap.BusAdapter = adapter
	t.snap.BusConnected = connected
	t.snap.BusReconnects = reconnects
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
