package logic

import "time"

// Controller drives the display's power state from presence observations and
// an idle deadline. It is not safe for concurrent use; all calls must come from
// the control loop.
type Controller struct {
	bus         Bus
	target      LogicalAddress
	sourceType  DeviceType
	idleTimeout time.Duration

	state     State
	deadline  time.Time
	poweredOn bool

	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewController creates a controller for target. No bus commands are issued
// until Start is called.
func NewController(bus Bus, target LogicalAddress, sourceType DeviceType, idleTimeout time.Duration, startTime time.Time) *Controller {
	return &Controller{
		bus:           bus,
		target:        target,
		sourceType:    sourceType,
		idleTimeout:   idleTimeout,
		state:         StateOn,
		deadline:      startTime.Add(idleTimeout),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Start powers on the target unconditionally and arms the idle deadline.
func (c *Controller) Start(now time.Time) Event {
	c.poweredOn = c.bus.PowerOn(c.target)
	if !c.poweredOn {
		c.eventCounts.PowerOnFailures++
	}
	c.state = StateOn
	c.deadline = now.Add(c.idleTimeout)

	return Event{
		Timestamp:   now,
		Type:        EventPowerOn,
		State:       c.state,
		Deadline:    c.deadline,
		PowerOnSent: true,
		PowerOnAck:  c.poweredOn,
	}
}

// Tick feeds one control loop tick into the state machine and returns the
// resulting events. At most one power transition command is issued per tick.
func (c *Controller) Tick(input Input) []Event {
	if input.Presence {
		return []Event{c.handlePresence(input.Time)}
	}

	if c.state == StateOn && input.Time.After(c.deadline) {
		c.bus.Standby(c.target)
		c.state = StateStandby
		c.eventCounts.Standby++
		return []Event{{
			Timestamp: input.Time,
			Type:      EventStandby,
			State:     c.state,
			Deadline:  c.deadline,
		}}
	}

	return nil
}

// handlePresence wakes the target if needed, re-asserts the active source and
// pushes the deadline forward. Runs on every presence tick, including ON -> ON.
func (c *Controller) handlePresence(now time.Time) Event {
	event := Event{
		Timestamp: now,
		Type:      EventPresence,
	}
	if c.state == StateStandby {
		event.Type = EventWake
	}

	event.Status = c.bus.GetPowerStatus(c.target)
	if event.Status != PowerStatusOn {
		// Unknown counts as not confirmed on. No retry within this tick.
		c.poweredOn = c.bus.PowerOn(c.target)
		event.PowerOnSent = true
		event.PowerOnAck = c.poweredOn
		if !c.poweredOn {
			c.eventCounts.PowerOnFailures++
		}
	} else {
		c.poweredOn = true
	}

	c.bus.SetActiveSource(c.sourceType)
	c.deadline = now.Add(c.idleTimeout)
	c.state = StateOn

	if event.Type == EventWake {
		c.eventCounts.Wake++
	} else {
		c.eventCounts.Presence++
	}

	event.State = c.state
	event.Deadline = c.deadline
	return event
}

// State returns the current power state.
func (c *Controller) State() State {
	return c.state
}

// Deadline returns the instant after which the controller stands the target by.
func (c *Controller) Deadline() time.Time {
	return c.deadline
}

// PoweredOn returns the result of the most recent PowerOn, or true if the last
// status query confirmed the target on.
func (c *Controller) PoweredOn() bool {
	return c.poweredOn
}

// EventCountsSnapshot returns a copy of the event counters.
func (c *Controller) EventCountsSnapshot() EventCounts {
	return c.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Counts:    c.eventCounts,
	}
}
