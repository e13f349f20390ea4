// Package config loads daemon settings from an optional YAML file.
//
// Loading order:
//  1. Default values
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/presence-cec/internal/cec"
	"github.com/sweeney/presence-cec/internal/logic"
)

// maxStandbySeconds is the longest idle timeout a time.Duration can hold.
const maxStandbySeconds = float64(math.MaxInt64 / int64(time.Second))

// Environment variables that override file values.
const (
	EnvBroker  = "PRESENCE_CEC_BROKER"
	EnvAdapter = "PRESENCE_CEC_ADAPTER"
)

// Config is the root configuration structure.
type Config struct {
	Sensor    SensorConfig  `yaml:"sensor"`
	Power     PowerConfig   `yaml:"power"`
	CEC       CECConfig     `yaml:"cec"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	HTTP      HTTPConfig    `yaml:"http"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// SensorConfig contains motion sensor settings.
type SensorConfig struct {
	// Pin is the BCM pin number of the PIR output.
	Pin int `yaml:"pin"`
	// Debounce enables kernel debouncing of the line when non-zero.
	Debounce time.Duration `yaml:"debounce"`
	// PollPin ORs the raw line level into each tick's presence signal.
	PollPin bool `yaml:"poll_pin"`
}

// PowerConfig contains controller timing.
type PowerConfig struct {
	// StandbySeconds is the idle timeout before the display is stood by.
	StandbySeconds float64 `yaml:"standby"`
	// Tick is the control loop interval.
	Tick time.Duration `yaml:"tick"`
}

// CECConfig contains bus settings.
type CECConfig struct {
	// Adapter is the cec-client com port. Empty means auto-detect.
	Adapter string `yaml:"adapter"`
	// Command is the cec-client command line, without the adapter.
	Command string `yaml:"command"`
	// DeviceType is the CEC device type to register as.
	DeviceType string `yaml:"device_type"`
	// Target is the logical address of the display.
	Target int `yaml:"target"`
	// OpenTimeout bounds adapter open.
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// AckTimeout bounds each command.
	AckTimeout time.Duration `yaml:"ack_timeout"`
	// Verbose passes cec-client output through to the log.
	Verbose bool `yaml:"verbose"`
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// HTTPConfig contains status server settings. An empty addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sensor: SensorConfig{
			Pin: 17,
		},
		Power: PowerConfig{
			StandbySeconds: 5,
			Tick:           500 * time.Millisecond,
		},
		CEC: CECConfig{
			Command:     cec.DefaultCommand,
			DeviceType:  string(logic.DeviceTypeRecording),
			Target:      int(logic.AddressTV),
			OpenTimeout: 15 * time.Second,
			AckTimeout:  time.Second,
		},
		MQTT: MQTTConfig{
			ClientID: "presence-cec",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Heartbeat: 15 * time.Minute,
	}
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(EnvAdapter); v != "" {
		cfg.CEC.Adapter = v
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Sensor.Pin < 0 {
		errs = append(errs, fmt.Errorf("sensor.pin must be >= 0, got %d", c.Sensor.Pin))
	}
	if c.Sensor.Debounce < 0 {
		errs = append(errs, fmt.Errorf("sensor.debounce must be >= 0, got %v", c.Sensor.Debounce))
	}
	switch standby := c.Power.StandbySeconds; {
	case math.IsNaN(standby) || math.IsInf(standby, 0):
		errs = append(errs, fmt.Errorf("power.standby must be a finite number, got %v", standby))
	case standby <= 0:
		errs = append(errs, fmt.Errorf("power.standby must be > 0, got %v", standby))
	case standby >= maxStandbySeconds:
		errs = append(errs, fmt.Errorf("power.standby must be < %.0f seconds, got %v", maxStandbySeconds, standby))
	}
	if c.Power.Tick <= 0 {
		errs = append(errs, fmt.Errorf("power.tick must be > 0, got %v", c.Power.Tick))
	}
	if c.CEC.Target < 0 || c.CEC.Target > 15 {
		errs = append(errs, fmt.Errorf("cec.target must be 0-15, got %d", c.CEC.Target))
	}
	switch logic.DeviceType(c.CEC.DeviceType) {
	case logic.DeviceTypeTV, logic.DeviceTypeRecording, logic.DeviceTypeTuner,
		logic.DeviceTypePlayback, logic.DeviceTypeAudio:
	default:
		errs = append(errs, fmt.Errorf("cec.device_type %q is not one of tv, recording, tuner, playback, audio", c.CEC.DeviceType))
	}
	if c.CEC.Command == "" {
		errs = append(errs, errors.New("cec.command must not be empty"))
	}
	if c.CEC.OpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cec.open_timeout must be > 0, got %v", c.CEC.OpenTimeout))
	}
	if c.CEC.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cec.ack_timeout must be > 0, got %v", c.CEC.AckTimeout))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must be >= 0, got %v", c.Heartbeat))
	}

	return errors.Join(errs...)
}

// IdleTimeout returns the standby timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Power.StandbySeconds * float64(time.Second))
}

// Target returns the display's logical address.
func (c *Config) Target() logic.LogicalAddress {
	return logic.LogicalAddress(c.CEC.Target)
}

// SourceType returns the CEC device type to announce as active source.
func (c *Config) SourceType() logic.DeviceType {
	return logic.DeviceType(c.CEC.DeviceType)
}
