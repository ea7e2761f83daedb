package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Endpoint.Address != DefaultEndpoint {
		t.Errorf("endpoint = %q, want %q", cfg.Endpoint.Address, DefaultEndpoint)
	}
	if cfg.Identity.SystemID != 1 || cfg.Identity.ComponentID != 180 {
		t.Errorf("identity = %s, want 1/180", cfg.Identity)
	}
	if cfg.Timing.PublishPeriod != time.Second {
		t.Errorf("publish period = %v, want 1s", cfg.Timing.PublishPeriod)
	}
	if cfg.Reconnect.BackoffEnabled {
		t.Error("backoff should be disabled by default")
	}
	if cfg.Reconnect.Backoff() != nil {
		t.Error("Backoff() should be nil when disabled")
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
identity:
  system_id: 7
endpoint:
  address: "127.0.0.1:6000"
timing:
  publish_period: 500ms
  tick_interval: 10ms
reconnect:
  backoff_enabled: true
  initial: 2s
  max: 8s
battery:
  load_current_a: 4.5
logging:
  level: debug
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Identity.SystemID != 7 {
		t.Errorf("system_id = %d, want 7", cfg.Identity.SystemID)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Identity.ComponentID != 180 {
		t.Errorf("component_id = %d, want 180", cfg.Identity.ComponentID)
	}
	if cfg.Endpoint.Address != "127.0.0.1:6000" {
		t.Errorf("address = %q", cfg.Endpoint.Address)
	}
	if cfg.Timing.PublishPeriod != 500*time.Millisecond {
		t.Errorf("publish_period = %v", cfg.Timing.PublishPeriod)
	}
	if cfg.Timing.TickInterval != 10*time.Millisecond {
		t.Errorf("tick_interval = %v", cfg.Timing.TickInterval)
	}
	if cfg.Battery.LoadCurrentA != 4.5 {
		t.Errorf("load_current_a = %v", cfg.Battery.LoadCurrentA)
	}
	if cfg.Battery.NominalVoltage != 12 {
		t.Errorf("nominal_voltage = %v, want default 12", cfg.Battery.NominalVoltage)
	}

	b := cfg.Reconnect.Backoff()
	if b == nil {
		t.Fatal("Backoff() = nil with backoff enabled")
	}
	if b.Initial != 2*time.Second || b.Max != 8*time.Second {
		t.Errorf("backoff = %+v", *b)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Endpoint.Address != DefaultEndpoint {
		t.Errorf("address = %q, want default", cfg.Endpoint.Address)
	}
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse([]byte("endpoint:\n  adress: x:1\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vbat.yaml")
	if err := os.WriteFile(path, []byte("battery:\n  state_of_charge: 80\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Battery.StateOfCharge != 80 {
		t.Errorf("state_of_charge = %v, want 80", cfg.Battery.StateOfCharge)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero system id", func(c *Config) { c.Identity.SystemID = 0 }, "identity.system_id"},
		{"empty endpoint", func(c *Config) { c.Endpoint.Address = "" }, "endpoint.address is required"},
		{"endpoint without port", func(c *Config) { c.Endpoint.Address = "localhost" }, "host:port"},
		{"zero connect timeout", func(c *Config) { c.Timing.ConnectTimeout = 0 }, "connect_timeout"},
		{"zero publish period", func(c *Config) { c.Timing.PublishPeriod = 0 }, "publish_period"},
		{"negative tick", func(c *Config) { c.Timing.TickInterval = -time.Second }, "tick_interval"},
		{"missed pongs", func(c *Config) { c.KeepAlive.MaxMissedPongs = 0 }, "max_missed_pongs"},
		{"backoff max below initial", func(c *Config) {
			c.Reconnect.BackoffEnabled = true
			c.Reconnect.Initial = 10 * time.Second
			c.Reconnect.Max = time.Second
		}, "reconnect.max"},
		{"soc above 100", func(c *Config) { c.Battery.StateOfCharge = 101 }, "state_of_charge"},
		{"negative soh", func(c *Config) { c.Battery.StateOfHealth = -1 }, "state_of_health"},
		{"negative load", func(c *Config) { c.Battery.LoadCurrentA = -2 }, "load_current_a"},
		{"long instance", func(c *Config) { c.Discovery.Instance = strings.Repeat("x", 64) }, "discovery.instance"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Identity.SystemID = 0
	cfg.Battery.LoadCurrentA = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"identity.system_id", "load_current_a"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestBatteryModelConfig(t *testing.T) {
	cfg := Default()
	cfg.Battery.TemperatureC = 31

	m := cfg.Battery.Model()
	if m.CapacityMAh != 100 {
		t.Errorf("capacity = %v, want 100", m.CapacityMAh)
	}
	if m.Temperature == nil {
		t.Fatal("temperature func not set")
	}
}

func TestSlogLevel(t *testing.T) {
	for _, in := range []string{"debug", "INFO", "warn", "error"} {
		l := LoggingConfig{Level: in}
		if _, err := l.SlogLevel(); err != nil {
			t.Errorf("SlogLevel(%q): %v", in, err)
		}
	}
}

func TestRuntimeConfig(t *testing.T) {
	cfg := Default()
	rc := cfg.Runtime(nil, nil, nil)
	if rc.Endpoint != DefaultEndpoint {
		t.Errorf("endpoint = %q", rc.Endpoint)
	}
	if rc.Identity != cfg.Identity {
		t.Errorf("identity = %s", rc.Identity)
	}
}
