package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/presence-cec/internal/cec"
	"github.com/sweeney/presence-cec/internal/gpio"
	"github.com/sweeney/presence-cec/internal/latch"
	"github.com/sweeney/presence-cec/internal/logic"
	"github.com/sweeney/presence-cec/internal/mqtt"
	"github.com/sweeney/presence-cec/internal/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// ticks returns a closed channel holding n ticks, so runLoop runs n steps and
// then stops on its own.
func ticks(n int) <-chan time.Time {
	ch := make(chan time.Time, n)
	for i := 0; i < n; i++ {
		ch <- time.Time{}
	}
	close(ch)
	return ch
}

type harness struct {
	d         *daemon
	dialer    *cec.FakeDialer
	session   *cec.Session
	publisher *mqtt.FakePublisher
	tracker   *status.Tracker
	fatal     chan error
}

// newHarness opens a session on a fake adapter and starts a controller at t0.
func newHarness(t *testing.T, idle time.Duration, dialErrs ...error) *harness {
	t.Helper()

	h := &harness{
		dialer:    cec.NewFakeDialer(dialErrs...),
		publisher: mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(t0, status.Config{StandbyMs: idle.Milliseconds()}),
		fatal:     make(chan error, 1),
	}
	shutdown := &latch.Latch{}
	h.session = cec.NewSession(h.dialer.Dial, func(err error) {
		shutdown.Record()
		h.fatal <- err
	})
	if err := h.session.Open("/dev/ttyACM0"); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.session.Close() })

	controller := logic.NewController(h.session, logic.AddressTV, logic.DeviceTypeRecording, idle, t0)
	controller.Start(t0)

	h.d = &daemon{
		controller: controller,
		bus:        h.session,
		motion:     &latch.Latch{},
		shutdown:   shutdown,
		publisher:  h.publisher,
		mqttStatus: h.publisher,
		tracker:    h.tracker,
		stopReason: func() string { return "SIGTERM" },
	}
	return h
}

func (h *harness) commands() []string {
	return h.dialer.Last().Commands()
}

// runAsync starts runLoop on an unbuffered tick channel.
func (h *harness) runAsync(now func() time.Time) (chan<- time.Time, <-chan error) {
	tick := make(chan time.Time)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.d, now, tick)
	}()
	return tick, errCh
}

// sendOrDone delivers one tick unless runLoop has already returned.
func sendOrDone(t *testing.T, tick chan<- time.Time, errCh <-chan error) (bool, error) {
	t.Helper()
	select {
	case tick <- time.Time{}:
		return false, nil
	case err := <-errCh:
		return true, err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop neither accepted a tick nor returned")
	}
	return false, nil
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
	}
	return nil
}

func TestRunLoopScenario(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	// Presence via the raw pin on the 12th tick (t=6s).
	levels := make([]bool, 13)
	levels[11] = true
	sensor := gpio.NewFakeSensor(nil)
	sensor.Values = levels
	h.d.sensor = sensor

	// 12 ticks at 0.5s..6.0s, then the closed channel stops the loop at 6.5s.
	err := runLoop(h.d, fakeClock(t0.Add(500*time.Millisecond), 500*time.Millisecond), ticks(12))
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	want := []string{"on 0", "standby 0", "pow 0", "on 0", "as"}
	if got := h.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands: got %v, want %v", got, want)
	}

	if got := h.publisher.EventTypes(); !reflect.DeepEqual(got, []logic.EventType{logic.EventStandby, logic.EventWake}) {
		t.Fatalf("events: got %v", got)
	}
	standby := h.publisher.Events[0]
	if want := t0.Add(5500 * time.Millisecond); !standby.Timestamp.Equal(want) {
		t.Errorf("standby at %v, want %v", standby.Timestamp, want)
	}
	wake := h.publisher.Events[1]
	if want := t0.Add(11 * time.Second); !wake.Deadline.Equal(want) {
		t.Errorf("wake deadline: got %v, want %v", wake.Deadline, want)
	}
	if wake.Status != logic.PowerStatusUnknown || !wake.PowerOnSent || !wake.PowerOnAck {
		t.Errorf("wake: got %+v", wake)
	}

	if h.d.controller.State() != logic.StateOn {
		t.Errorf("final state: got %s, want ON", h.d.controller.State())
	}
	snap := h.tracker.Snapshot()
	if snap.State != logic.StateOn || snap.Counts.Standby != 1 || snap.Counts.Wake != 1 {
		t.Errorf("tracker: state=%s counts=%+v", snap.State, snap.Counts)
	}
	if !snap.LastPresence.Equal(t0.Add(6 * time.Second)) {
		t.Errorf("LastPresence: got %v", snap.LastPresence)
	}
	if snap.BusAdapter != "/dev/ttyACM0" || !snap.BusConnected {
		t.Errorf("tracker bus: adapter=%q connected=%v", snap.BusAdapter, snap.BusConnected)
	}
}

func TestRunLoopMotionLatch(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	h.d.motion.Record()
	h.d.motion.Record()

	if err := runLoop(h.d, fakeClock(t0.Add(time.Second), time.Second), ticks(2)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	// Two records coalesce into one presence tick; the second tick is idle.
	if got := h.publisher.EventTypes(); !reflect.DeepEqual(got, []logic.EventType{logic.EventPresence}) {
		t.Errorf("events: got %v, want [PRESENCE]", got)
	}
	if want := t0.Add(6 * time.Second); !h.d.controller.Deadline().Equal(want) {
		t.Errorf("deadline: got %v, want %v", h.d.controller.Deadline(), want)
	}
}

func TestRunLoopNoOpTicksIssueNoCommands(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	if err := runLoop(h.d, fakeClock(t0.Add(time.Second), time.Second), ticks(4)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if got := h.commands(); !reflect.DeepEqual(got, []string{"on 0"}) {
		t.Errorf("commands: got %v, want only the startup power on", got)
	}
	if len(h.publisher.Events) != 0 {
		t.Errorf("expected no events, got %v", h.publisher.EventTypes())
	}
}

func TestRunLoopShutdownLatchCheckedFirst(t *testing.T) {
	h := newHarness(t, time.Second)

	h.d.motion.Record()
	h.d.shutdown.Record()

	if err := runLoop(h.d, fakeClock(t0.Add(10*time.Second), time.Second), ticks(3)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if got := h.commands(); !reflect.DeepEqual(got, []string{"on 0"}) {
		t.Errorf("commands: got %v, want no commands after shutdown", got)
	}
	if got := h.publisher.SystemEventNames(); !reflect.DeepEqual(got, []string{"SHUTDOWN"}) {
		t.Fatalf("system events: got %v, want [SHUTDOWN]", got)
	}
	ev := h.publisher.SystemEvents[0]
	if ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("shutdown event: reason=%q retained=%v", ev.Reason, ev.Retained)
	}
	if !h.dialer.Last().Closed() {
		t.Error("expected bus connection closed on exit")
	}
	if h.session.Connected() {
		t.Error("expected session disconnected on exit")
	}
}

func TestRunLoopShutdownWithinOneTick(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	tick, errCh := h.runAsync(fakeClock(t0.Add(500*time.Millisecond), 500*time.Millisecond))

	for i := 0; i < 3; i++ {
		if done, _ := sendOrDone(t, tick, errCh); done {
			t.Fatal("runLoop returned before shutdown was requested")
		}
	}

	h.d.shutdown.Record()
	done, err := sendOrDone(t, tick, errCh)
	if !done {
		err = waitErr(t, errCh)
	}
	if err != nil {
		t.Errorf("runLoop: got %v, want nil", err)
	}
}

func TestRunLoopReconnectFailureStopsLoop(t *testing.T) {
	h := newHarness(t, 5*time.Second, nil, errors.New("adapter gone"))
	first := h.dialer.Last()
	tick, errCh := h.runAsync(fakeClock(t0.Add(500*time.Millisecond), 500*time.Millisecond))

	if done, _ := sendOrDone(t, tick, errCh); done {
		t.Fatal("runLoop returned early")
	}

	first.Drop(errors.New("usb unplugged"))
	select {
	case err := <-h.fatal:
		if !errors.Is(err, cec.ErrFatal) {
			t.Errorf("onFatal error: got %v, want ErrFatal", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never went fatal")
	}

	done, err := sendOrDone(t, tick, errCh)
	if !done {
		err = waitErr(t, errCh)
	}
	if !errors.Is(err, cec.ErrFatal) {
		t.Fatalf("runLoop: got %v, want ErrFatal", err)
	}

	if got := h.publisher.SystemEventNames(); !reflect.DeepEqual(got, []string{"BUS_LOST"}) {
		t.Errorf("system events: got %v, want [BUS_LOST]", got)
	}
	if !first.Closed() {
		t.Error("expected stale connection closed")
	}
	if h.dialer.Dials() != 2 {
		t.Errorf("dials: got %d, want 2 (open + one reconnect)", h.dialer.Dials())
	}
}

func TestRunLoopReconnectSuccessIsTransparent(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	first := h.dialer.Last()

	first.Drop(errors.New("usb reset"))
	deadline := time.Now().Add(2 * time.Second)
	for h.session.Reconnects() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("session did not reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.d.motion.Record()
	if err := runLoop(h.d, fakeClock(t0.Add(time.Second), time.Second), ticks(1)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	second := h.dialer.Last()
	if second == first {
		t.Fatal("expected a new connection")
	}
	if got := second.Commands(); !reflect.DeepEqual(got, []string{"pow 0", "on 0", "as"}) {
		t.Errorf("commands on new conn: got %v", got)
	}
	if got := h.publisher.EventTypes(); !reflect.DeepEqual(got, []logic.EventType{logic.EventPresence}) {
		t.Errorf("events: got %v, want [PRESENCE]", got)
	}
	if got := h.publisher.SystemEventNames(); !reflect.DeepEqual(got, []string{"BUS_RECONNECTED", "SHUTDOWN"}) {
		t.Errorf("system events: got %v", got)
	}
	if h.dialer.Addresses()[1] != "/dev/ttyACM0" {
		t.Errorf("reconnect address: got %q", h.dialer.Addresses()[1])
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	h := newHarness(t, time.Second)
	h.publisher.PublishError = errors.New("broker down")

	// Tick at 2s stands by, tick at 3s does nothing.
	if err := runLoop(h.d, fakeClock(t0.Add(2*time.Second), time.Second), ticks(2)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if h.d.controller.State() != logic.StateStandby {
		t.Errorf("state: got %s, want STANDBY", h.d.controller.State())
	}
	if got := h.commands(); !reflect.DeepEqual(got, []string{"on 0", "standby 0"}) {
		t.Errorf("commands: got %v", got)
	}
}

func TestRunLoopSensorReadErrorIsNotPresence(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	sensor := gpio.NewFakeSensor(nil)
	sensor.ValueError = errors.New("line released")
	h.d.sensor = sensor

	if err := runLoop(h.d, fakeClock(t0.Add(time.Second), time.Second), ticks(2)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if len(h.publisher.Events) != 0 {
		t.Errorf("expected no events, got %v", h.publisher.EventTypes())
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.d.heartbeat = time.Second

	// Ticks at 0.5s..2.5s.
	if err := runLoop(h.d, fakeClock(t0.Add(500*time.Millisecond), 500*time.Millisecond), ticks(5)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	want := []string{"HEARTBEAT", "HEARTBEAT", "SHUTDOWN"}
	if got := h.publisher.SystemEventNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("system events: got %v, want %v", got, want)
	}
	if h.publisher.SystemEvents[0].Retained {
		t.Error("heartbeat should not be retained")
	}
	if len(h.publisher.SystemPayloads[0]) == 0 {
		t.Error("expected heartbeat status payload")
	}
}

func TestRunLoopWithoutTracker(t *testing.T) {
	h := newHarness(t, time.Second)
	h.d.tracker = nil
	h.d.mqttStatus = nil

	if err := runLoop(h.d, fakeClock(t0.Add(2*time.Second), time.Second), ticks(1)); err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if got := h.publisher.EventTypes(); !reflect.DeepEqual(got, []logic.EventType{logic.EventStandby}) {
		t.Errorf("events: got %v", got)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  syscall.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Sensor.Pin != 17 || cfg.IdleTimeout() != 5*time.Second || cfg.Power.Tick != 500*time.Millisecond {
		t.Errorf("defaults: pin=%d idle=%v tick=%v", cfg.Sensor.Pin, cfg.IdleTimeout(), cfg.Power.Tick)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("expected MQTT disabled by default, got %q", cfg.MQTT.Broker)
	}
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presence-cec.yaml")
	yaml := "sensor:\n  pin: 4\n  poll_pin: true\npower:\n  standby: 30\nmqtt:\n  broker: tcp://file:1883\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseFlags([]string{"--config", path, "--standby", "2.5", "--verbose"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	// Flags win, file values survive where no flag was given.
	if cfg.IdleTimeout() != 2500*time.Millisecond {
		t.Errorf("idle: got %v, want 2.5s", cfg.IdleTimeout())
	}
	if !cfg.CEC.Verbose {
		t.Error("expected verbose from flag")
	}
	if cfg.Sensor.Pin != 4 || !cfg.Sensor.PollPin {
		t.Errorf("sensor: got %+v, want pin 4 with poll_pin", cfg.Sensor)
	}
	if cfg.MQTT.Broker != "tcp://file:1883" {
		t.Errorf("broker: got %q", cfg.MQTT.Broker)
	}
}

func TestParseFlagsRejectsInvalid(t *testing.T) {
	if _, err := parseFlags([]string{"--standby", "0"}); err == nil {
		t.Error("expected error for zero standby")
	}
	for _, v := range []string{"NaN", "+Inf", "1e12"} {
		if _, err := parseFlags([]string{"--standby", v}); err == nil {
			t.Errorf("expected error for standby %s", v)
		}
	}
	if _, err := parseFlags([]string{"--no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}
