// Command vbat-device simulates a battery monitor that reports to a ground
// station.
//
// The device dials the ground station, requests its parameters once per
// link, and publishes BATTERY_STATUS once per second while connected. A lost
// link is re-established on the next loop iteration.
//
// Usage:
//
//	vbat-device [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-endpoint string      Ground station address (default "172.17.0.1:5790")
//	-system-id uint       System ID of this device (default 1)
//	-component-id uint    Component ID of this device (default 180)
//	-load float           Constant load current in amps
//	-backoff              Delay reconnect attempts after failures
//	-schema string        Message definitions file (default: embedded)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write a protocol capture to this file
//	-trace                Log protocol events at debug level
//	-no-discovery         Do not announce the device over mDNS
//	-interactive          Enable interactive command mode
//
// Examples:
//
//	# Run against a local ground station with a 5 A load
//	vbat-device -endpoint 127.0.0.1:5790 -load 5
//
//	# Capture protocol traffic for vbat-log
//	vbat-device -protocol-log /tmp/device.vlog -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vbat-sim/vbat-go/cmd/vbat-device/interactive"
	"github.com/vbat-sim/vbat-go/internal/config"
	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/connection"
	"github.com/vbat-sim/vbat-go/pkg/discovery"
	plog "github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/scheduler"
	"github.com/vbat-sim/vbat-go/pkg/schema"
	"github.com/vbat-sim/vbat-go/pkg/telemetry"
	"github.com/vbat-sim/vbat-go/pkg/transport"
)

// presenceInterval is how often the advertised charge is refreshed.
const presenceInterval = 10 * time.Second

// Flags holds the command-line settings. Only flags given explicitly
// override the configuration file.
type Flags struct {
	ConfigFile  string
	Endpoint    string
	SystemID    uint
	ComponentID uint
	Load        float64
	Backoff     bool
	SchemaPath  string
	LogLevel    string
	ProtocolLog string
	Trace       bool
	NoDiscovery bool
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Endpoint, "endpoint", config.DefaultEndpoint, "Ground station address")
	flag.UintVar(&flags.SystemID, "system-id", 1, "System ID of this device")
	flag.UintVar(&flags.ComponentID, "component-id", 180, "Component ID of this device")
	flag.Float64Var(&flags.Load, "load", 0, "Constant load current in amps")
	flag.BoolVar(&flags.Backoff, "backoff", false, "Delay reconnect attempts after failures")
	flag.StringVar(&flags.SchemaPath, "schema", "", "Message definitions file (default: embedded)")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a protocol capture to this file")
	flag.BoolVar(&flags.Trace, "trace", false, "Log protocol events at debug level")
	flag.BoolVar(&flags.NoDiscovery, "no-discovery", false, "Do not announce the device over mDNS")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

// deviceConfig implements interactive.DeviceConfig.
type deviceConfig struct{ cfg *config.Config }

func (d deviceConfig) Identity() string { return d.cfg.Identity.String() }
func (d deviceConfig) Endpoint() string { return d.cfg.Endpoint.Address }

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vbat-device: %v\n", err)
		os.Exit(2)
	}

	level, _ := cfg.Logging.SlogLevel()
	out := &logOutput{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger, out); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies flags that
// were set on the command line.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint.Address = flags.Endpoint
		case "system-id":
			cfg.Identity.SystemID = uint8(flags.SystemID)
		case "component-id":
			cfg.Identity.ComponentID = uint8(flags.ComponentID)
		case "load":
			cfg.Battery.LoadCurrentA = flags.Load
		case "backoff":
			cfg.Reconnect.BackoffEnabled = flags.Backoff
		case "schema":
			cfg.Schema.Path = flags.SchemaPath
		case "log-level":
			cfg.Logging.Level = flags.LogLevel
		case "protocol-log":
			cfg.Logging.ProtocolLog = flags.ProtocolLog
		case "no-discovery":
			cfg.Discovery.Enabled = !flags.NoDiscovery
		}
	})

	if flags.SystemID > 255 || flags.ComponentID > 255 {
		return nil, fmt.Errorf("system and component IDs must be 0-255")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return &cfg, nil
}

func loadSchema(path string) (*schema.MessageSet, error) {
	if path == "" {
		return schema.Default()
	}
	return schema.Load(path)
}

func run(cfg *config.Config, logger *slog.Logger, out *logOutput) error {
	logger.Info("vbat device starting", cfg.Summary()...)

	set, err := loadSchema(cfg.Schema.Path)
	if err != nil {
		return fmt.Errorf("load message definitions: %w", err)
	}

	protocolLogger, closeLog, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := transport.NewRuntime(cfg.Runtime(set, logger, protocolLogger))
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}

	store := param.NewStore(logger)
	manager := connection.NewManager(func(ctx context.Context, timeout time.Duration) (connection.Link, error) {
		link, err := rt.AwaitConnection(ctx, timeout)
		if err != nil {
			return nil, err
		}
		return link, nil
	}, connection.ManagerConfig{
		Messages:       set,
		Params:         store,
		SyncTarget:     cfg.Sync.Target(),
		Backoff:        cfg.Reconnect.Backoff(),
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	})
	defer manager.Disconnect()

	manager.OnStateChange(func(from, to connection.State) {
		if to == connection.StateConnected || from == connection.StateConnected {
			logger.Info("link state", "from", from, "to", to)
		}
	})

	encoder, err := telemetry.NewEncoder(set)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}

	sched := scheduler.New(manager, battery.NewModel(cfg.Battery.Model()), store, encoder, scheduler.Config{
		ConnectTimeout: cfg.Timing.ConnectTimeout,
		PublishPeriod:  cfg.Timing.PublishPeriod,
		TickInterval:   cfg.Timing.TickInterval,
		Logger:         logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Discovery.Enabled {
		presence, err := announce(ctx, cfg, set.Version(), logger)
		if err != nil {
			logger.Warn("mDNS announcement failed", "error", err)
		} else {
			defer presence.Withdraw()
			go refreshPresence(ctx, presence, sched, encoder)
		}
	}

	if flags.Interactive {
		ic, err := interactive.New(manager, store, sched, deviceConfig{cfg})
		if err != nil {
			return err
		}
		out.Set(ic.Stdout())
		go ic.Run(ctx, cancel)
	}

	err = sched.Run(ctx)
	logger.Info("shutting down", "iterations", sched.Status().Iterations)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// protocolLogger builds the capture sinks. The returned func closes them.
func protocolLogger(cfg *config.Config, logger *slog.Logger) (plog.Logger, func(), error) {
	var sinks []plog.Logger
	closeFn := func() {}

	if path := cfg.Logging.ProtocolLog; path != "" {
		fl, err := plog.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		logger.Info("protocol capture enabled", "path", fl.Path())
		sinks = append(sinks, fl)
		closeFn = func() {
			written, dropped := fl.Stats()
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log", "error", err)
			}
			logger.Info("protocol capture closed", "events", written, "dropped", dropped)
		}
	}
	if flags.Trace {
		sinks = append(sinks, plog.NewSlogAdapter(logger))
	}

	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return plog.NewMultiLogger(sinks...), closeFn, nil
	}
}

func announce(ctx context.Context, cfg *config.Config, schemaVersion int, logger *slog.Logger) (*discovery.Presence, error) {
	adv, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
		Interface: cfg.Discovery.Interface,
		TTL:       discovery.DefaultTTL,
	})
	if err != nil {
		return nil, err
	}

	presence := discovery.NewPresence(adv, discovery.PresenceInfo{
		InstanceName:     cfg.Discovery.Instance,
		SystemID:         cfg.Identity.SystemID,
		ComponentID:      cfg.Identity.ComponentID,
		Type:             "BATTERY",
		SchemaVersion:    schemaVersion,
		BatteryRemaining: int8(cfg.Battery.StateOfCharge),
		Port:             cfg.Discovery.Port,
	}, logger)

	if err := presence.Announce(ctx); err != nil {
		return nil, err
	}
	return presence, nil
}

func refreshPresence(ctx context.Context, presence *discovery.Presence, sched *scheduler.Scheduler, encoder *telemetry.Encoder) {
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := encoder.Record(sched.Status().Battery)
			if _, err := presence.UpdateRemaining(rec.BatteryRemaining); err != nil {
				slog.Debug("presence update failed", "error", err)
			}
		}
	}
}

// logOutput lets the interactive console take over log output after the
// logger is built.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) Set(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}
