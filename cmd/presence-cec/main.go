// Command presence-cec powers an HDMI-CEC display on when a motion sensor sees
// someone and puts it into standby after an idle timeout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sweeney/presence-cec/internal/cec"
	"github.com/sweeney/presence-cec/internal/config"
	"github.com/sweeney/presence-cec/internal/gpio"
	"github.com/sweeney/presence-cec/internal/latch"
	"github.com/sweeney/presence-cec/internal/logic"
	"github.com/sweeney/presence-cec/internal/metrics"
	"github.com/sweeney/presence-cec/internal/mqtt"
	"github.com/sweeney/presence-cec/internal/status"
	"github.com/sweeney/presence-cec/internal/web"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parseFlags loads the config file named by --config and applies any flags
// given on the command line on top of it.
func parseFlags(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("presence-cec", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (optional)")
	pin := fs.Int("pin", gpio.DefaultPin, "BCM pin number of the motion sensor")
	standby := fs.Float64("standby", 5, "Seconds without motion before standby")
	tick := fs.Duration("tick", 500*time.Millisecond, "Control loop interval")
	verbose := fs.Bool("verbose", false, "Log cec-client output")
	adapter := fs.String("adapter", "", "CEC adapter com port (empty to auto-detect)")
	cecCommand := fs.String("cec-command", cec.DefaultCommand, "cec-client command line, without the adapter")
	broker := fs.String("broker", "", "MQTT broker address (empty to disable)")
	httpAddr := fs.String("http", ":8080", "HTTP status address (empty to disable)")
	heartbeat := fs.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	debounce := fs.Duration("debounce", 0, "Kernel debounce for the sensor line (0 to disable)")
	pollPin := fs.Bool("poll-pin", false, "Also treat a high sensor level as presence on each tick")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pin":
			cfg.Sensor.Pin = *pin
		case "standby":
			cfg.Power.StandbySeconds = *standby
		case "tick":
			cfg.Power.Tick = *tick
		case "verbose":
			cfg.CEC.Verbose = *verbose
		case "adapter":
			cfg.CEC.Adapter = *adapter
		case "cec-command":
			cfg.CEC.Command = *cecCommand
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "debounce":
			cfg.Sensor.Debounce = *debounce
		case "poll-pin":
			cfg.Sensor.PollPin = *pollPin
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	motion := &latch.Latch{}
	shutdown := &latch.Latch{}

	// Initialize motion sensor; edges only ever reach the motion latch.
	sensor, err := gpio.NewRealSensor(cfg.Sensor.Pin, cfg.Sensor.Debounce, motion.Record)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer sensor.Close()

	// Initialize CEC bus
	command, err := cec.ParseCommand(cfg.CEC.Command)
	if err != nil {
		return err
	}
	address := cfg.CEC.Adapter
	if address == "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CEC.OpenTimeout)
		ports, err := cec.DetectAdapters(ctx, command[0])
		cancel()
		if err != nil {
			return fmt.Errorf("detect adapter: %w", err)
		}
		address = ports[0]
		log.Printf("cec: using adapter %s (found %d)", address, len(ports))
	}

	dial := cec.NewClientDialer(cec.ClientConfig{
		Command:     command,
		DeviceType:  cfg.SourceType(),
		OpenTimeout: cfg.CEC.OpenTimeout,
		AckTimeout:  cfg.CEC.AckTimeout,
		Verbose:     cfg.CEC.Verbose,
	})
	session := cec.NewSession(dial, func(error) {
		shutdown.Record()
	})
	if err := session.Open(address); err != nil {
		return err
	}
	defer session.Close()

	// Initialize MQTT
	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	startTime := time.Now()
	tracker := status.NewTracker(startTime, status.Config{
		Pin:         cfg.Sensor.Pin,
		TickMs:      cfg.Power.Tick.Milliseconds(),
		StandbyMs:   cfg.IdleTimeout().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		PollPin:     cfg.Sensor.PollPin,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	tracker.SetBus(session.Address(), session.Connected(), session.Reconnects())
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}

	// Power everything on before the first tick.
	controller := logic.NewController(session, cfg.Target(), cfg.SourceType(), cfg.IdleTimeout(), startTime)
	powerOn := controller.Start(startTime)
	metrics.ObserveEvent(powerOn)
	log.Printf("event: %s (ack=%v deadline=%s)", powerOn.Type, powerOn.PowerOnAck, powerOn.Deadline.Format(time.RFC3339Nano))
	if err := publisher.Publish(powerOn); err != nil {
		log.Printf("publish error: %v", err)
	}
	tracker.Update(controller.State(), controller.Deadline(), controller.PoweredOn(), controller.EventCountsSnapshot())

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	var stopSignal atomic.Value
	stopSignal.Store("UNKNOWN")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		s := <-sigCh
		log.Printf("received %v, shutting down", s)
		stopSignal.Store(signalName(s))
		shutdown.Record()
	}()

	var polled gpio.Sensor
	if cfg.Sensor.PollPin {
		polled = sensor
	}

	log.Printf("started: pin=%d standby=%v tick=%v adapter=%s broker=%q heartbeat=%v poll_pin=%v",
		cfg.Sensor.Pin, cfg.IdleTimeout(), cfg.Power.Tick, address, cfg.MQTT.Broker, cfg.Heartbeat, cfg.Sensor.PollPin)

	ticker := time.NewTicker(cfg.Power.Tick)
	defer ticker.Stop()

	return runLoop(&daemon{
		controller: controller,
		bus:        session,
		motion:     motion,
		shutdown:   shutdown,
		sensor:     polled,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat,
		stopReason: func() string { return stopSignal.Load().(string) },
	}, time.Now, ticker.C)
}

// busSession is the part of *cec.Session the loop needs beyond logic.Bus.
type busSession interface {
	Address() string
	Connected() bool
	Reconnects() int
	Fatal() bool
	Close() error
}

// daemon is everything runLoop drives. sensor, mqttStatus and tracker may be nil.
type daemon struct {
	controller *logic.Controller
	bus        busSession
	motion     *latch.Latch
	shutdown   *latch.Latch
	sensor     gpio.Sensor
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	stopReason func() string

	reconnects int
}

// runLoop runs one controller step per tick until the shutdown latch is set or
// tick is closed. The bus session is closed on the way out. It returns an
// error wrapping cec.ErrFatal if the loop stopped because the bus was lost.
func runLoop(d *daemon, now func() time.Time, tick <-chan time.Time) error {
	for range tick {
		if d.shutdown.ConsumeAndClear() {
			return d.stop(now())
		}

		presence := d.motion.ConsumeAndClear()
		if d.sensor != nil && !presence {
			high, err := d.sensor.Value()
			if err != nil {
				log.Printf("gpio read error: %v", err)
			}
			presence = high
		}

		t := now()
		events := d.controller.Tick(logic.Input{Presence: presence, Time: t})

		for _, event := range events {
			metrics.ObserveEvent(event)
			log.Printf("event: %s (state=%s status=%q deadline=%s)",
				event.Type, event.State, event.Status, event.Deadline.Format(time.RFC3339Nano))
			if err := d.publisher.Publish(event); err != nil {
				log.Printf("publish error: %v", err)
				// Don't crash on publish failure
			}
		}

		if n := d.bus.Reconnects(); n != d.reconnects {
			d.reconnects = n
			d.publishSystem(t, "BUS_RECONNECTED", "", false)
		}

		d.updateTracker(presence, t)

		if hbData := d.controller.CheckHeartbeat(t, d.heartbeat); hbData != nil {
			log.Printf("heartbeat: uptime=%v wake=%d presence=%d standby=%d power_on_failures=%d",
				hbData.Uptime, hbData.Counts.Wake, hbData.Counts.Presence, hbData.Counts.Standby, hbData.Counts.PowerOnFailures)
			d.publishSystem(hbData.Timestamp, "HEARTBEAT", "", false)
		}
	}
	return d.stop(now())
}

// stop publishes the final system event and releases the bus session.
func (d *daemon) stop(t time.Time) error {
	fatal := d.bus.Fatal()

	event, reason := "SHUTDOWN", "UNKNOWN"
	if d.stopReason != nil {
		reason = d.stopReason()
	}
	if fatal {
		event, reason = "BUS_LOST", "RECONNECT_FAILED"
	}
	d.publishSystem(t, event, reason, true)

	if err := d.bus.Close(); err != nil {
		log.Printf("cec: close: %v", err)
	}

	if fatal {
		return fmt.Errorf("bus session: %w", cec.ErrFatal)
	}
	return nil
}

func (d *daemon) updateTracker(presence bool, t time.Time) {
	if d.tracker == nil {
		return
	}
	d.tracker.Update(d.controller.State(), d.controller.Deadline(), d.controller.PoweredOn(), d.controller.EventCountsSnapshot())
	d.tracker.SetBus(d.bus.Address(), d.bus.Connected(), d.bus.Reconnects())
	if presence {
		d.tracker.SetLastPresence(t)
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishSystem(t time.Time, name, reason string, retained bool) {
	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     name,
		Reason:    reason,
		Retained:  retained,
	}
	if d.tracker != nil {
		d.updateTracker(false, t)
		event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), name, reason)
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
	} else {
		log.Printf("published %s event", name)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// nopPublisher stands in when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) Publish(logic.Event) error            { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }
