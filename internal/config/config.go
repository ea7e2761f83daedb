// Package config loads the vbat-device configuration file.
//
// Values not present in the file keep the defaults from Default. Command-line
// flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/connection"
	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/schema"
	"github.com/vbat-sim/vbat-go/pkg/transport"
)

// DefaultEndpoint is the ground station address used in the container setup.
const DefaultEndpoint = "172.17.0.1:5790"

type Config struct {
	Identity  transport.Identity        `yaml:"identity"`
	Endpoint  EndpointConfig            `yaml:"endpoint"`
	Timing    TimingConfig              `yaml:"timing"`
	KeepAlive transport.KeepAliveConfig `yaml:"keepalive"`
	Reconnect ReconnectConfig           `yaml:"reconnect"`
	Battery   BatteryConfig             `yaml:"battery"`
	Sync      SyncConfig                `yaml:"sync"`
	Discovery DiscoveryConfig           `yaml:"discovery"`
	Logging   LoggingConfig             `yaml:"logging"`
	Schema    SchemaConfig              `yaml:"schema"`
}

// ---- ENDPOINT ----

type EndpointConfig struct {
	Address string `yaml:"address"`
}

// ---- TIMING ----

type TimingConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	PublishPeriod     time.Duration `yaml:"publish_period"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// ---- RECONNECT ----

type ReconnectConfig struct {
	BackoffEnabled bool          `yaml:"backoff_enabled"`
	Initial        time.Duration `yaml:"initial"`
	Max            time.Duration `yaml:"max"`
}

// Backoff returns the manager backoff settings, or nil when disabled.
func (r ReconnectConfig) Backoff() *connection.BackoffConfig {
	if !r.BackoffEnabled {
		return nil
	}
	return &connection.BackoffConfig{
		Initial: r.Initial,
		Max:     r.Max,
		Jitter:  connection.JitterFactor,
	}
}

// ---- BATTERY ----

type BatteryConfig struct {
	NominalVoltage     float64 `yaml:"nominal_voltage"`
	StateOfCharge      float64 `yaml:"state_of_charge"`
	StateOfHealth      float64 `yaml:"state_of_health"`
	CapacityMAh        float64 `yaml:"capacity_mah"`
	LoadCurrentA       float64 `yaml:"load_current_a"`
	DegradationPerTick float64 `yaml:"degradation_per_tick"`
	TemperatureC       float64 `yaml:"temperature_c"`
}

// Model returns the battery model configuration.
func (b BatteryConfig) Model() battery.Config {
	return battery.Config{
		NominalVoltage:     b.NominalVoltage,
		StateOfCharge:      b.StateOfCharge,
		StateOfHealth:      b.StateOfHealth,
		CapacityMAh:        b.CapacityMAh,
		LoadCurrentA:       b.LoadCurrentA,
		DegradationPerTick: b.DegradationPerTick,
		Temperature:        battery.ConstantTemperature(b.TemperatureC),
	}
}

// ---- SYNC ----

type SyncConfig struct {
	TargetSystem    uint8 `yaml:"target_system"`
	TargetComponent uint8 `yaml:"target_component"`
}

// Target returns the sync request address.
func (s SyncConfig) Target() connection.SyncTarget {
	return connection.SyncTarget{System: s.TargetSystem, Component: s.TargetComponent}
}

// ---- DISCOVERY ----

type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Port      uint16 `yaml:"port"`
	Interface string `yaml:"interface"`
}

// ---- LOGGING ----

type LoggingConfig struct {
	Level       string `yaml:"level"`
	ProtocolLog string `yaml:"protocol_log"`
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// ---- SCHEMA ----

type SchemaConfig struct {
	// Path to a definitions file. Empty uses the embedded definitions.
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	bat := battery.DefaultConfig()
	ka := transport.DefaultKeepAliveConfig()

	return Config{
		Identity: transport.Identity{SystemID: 1, ComponentID: 180},
		Endpoint: EndpointConfig{Address: DefaultEndpoint},
		Timing: TimingConfig{
			ConnectTimeout:    connection.DefaultConnectTimeout,
			PublishPeriod:     time.Second,
			TickInterval:      0,
			HeartbeatInterval: transport.DefaultHeartbeatInterval,
			WriteTimeout:      transport.DefaultWriteTimeout,
		},
		KeepAlive: ka,
		Reconnect: ReconnectConfig{
			BackoffEnabled: false,
			Initial:        connection.InitialBackoff,
			Max:            connection.MaxBackoff,
		},
		Battery: BatteryConfig{
			NominalVoltage:     bat.NominalVoltage,
			StateOfCharge:      bat.StateOfCharge,
			StateOfHealth:      bat.StateOfHealth,
			CapacityMAh:        bat.CapacityMAh,
			LoadCurrentA:       bat.LoadCurrentA,
			DegradationPerTick: bat.DegradationPerTick,
			TemperatureC:       battery.DefaultTemperatureC,
		},
		Sync: SyncConfig{
			TargetSystem:    connection.DefaultSyncTarget.System,
			TargetComponent: connection.DefaultSyncTarget.Component,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Port:    transport.DefaultPort,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
// It does not mutate the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Identity.SystemID == 0 {
		add("identity.system_id must be non-zero")
	}

	if c.Endpoint.Address == "" {
		add("endpoint.address is required")
	} else if _, port, err := net.SplitHostPort(c.Endpoint.Address); err != nil || port == "" {
		add("endpoint.address %q must be host:port", c.Endpoint.Address)
	}

	if c.Timing.ConnectTimeout <= 0 {
		add("timing.connect_timeout must be positive")
	}
	if c.Timing.PublishPeriod <= 0 {
		add("timing.publish_period must be positive")
	}
	if c.Timing.TickInterval < 0 {
		add("timing.tick_interval must not be negative")
	}
	if c.Timing.HeartbeatInterval <= 0 {
		add("timing.heartbeat_interval must be positive")
	}
	if c.Timing.WriteTimeout <= 0 {
		add("timing.write_timeout must be positive")
	}

	if c.KeepAlive.PingInterval <= 0 || c.KeepAlive.PongTimeout <= 0 {
		add("keepalive intervals must be positive")
	}
	if c.KeepAlive.MaxMissedPongs < 1 {
		add("keepalive.max_missed_pongs must be at least 1")
	}

	if c.Reconnect.BackoffEnabled && c.Reconnect.Max < c.Reconnect.Initial {
		add("reconnect.max must not be below reconnect.initial")
	}

	b := c.Battery
	if b.NominalVoltage <= 0 {
		add("battery.nominal_voltage must be positive")
	}
	if b.StateOfCharge < 0 || b.StateOfCharge > 100 {
		add("battery.state_of_charge must be within [0,100]")
	}
	if b.StateOfHealth < 0 || b.StateOfHealth > 100 {
		add("battery.state_of_health must be within [0,100]")
	}
	if b.LoadCurrentA < 0 {
		add("battery.load_current_a must not be negative")
	}
	if b.DegradationPerTick < 0 {
		add("battery.degradation_per_tick must not be negative")
	}

	if c.Discovery.Enabled && len(c.Discovery.Instance) > 63 {
		add("discovery.instance exceeds 63 characters")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Runtime returns the transport settings for dialing the endpoint.
func (c *Config) Runtime(set *schema.MessageSet, logger *slog.Logger, plog log.Logger) transport.RuntimeConfig {
	return transport.RuntimeConfig{
		Identity:          c.Identity,
		Messages:          set,
		Endpoint:          c.Endpoint.Address,
		KeepAlive:         c.KeepAlive,
		HeartbeatInterval: c.Timing.HeartbeatInterval,
		WriteTimeout:      c.Timing.WriteTimeout,
		Logger:            logger,
		ProtocolLogger:    plog,
	}
}

// Summary lists the effective settings as slog attributes.
func (c *Config) Summary() []any {
	return []any{
		"identity", c.Identity.String(),
		"endpoint", c.Endpoint.Address,
		"connect_timeout", c.Timing.ConnectTimeout,
		"publish_period", c.Timing.PublishPeriod,
		"backoff", c.Reconnect.BackoffEnabled,
		"load_a", c.Battery.LoadCurrentA,
		"discovery", c.Discovery.Enabled,
		"schema", strings.TrimSpace(c.Schema.Path),
	}
}
