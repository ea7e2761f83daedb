// Command vbat-gcs is a minimal ground station for vbat-device.
//
// It accepts device links, answers parameter sync requests from a YAML
// parameter table, and logs the battery status each device publishes.
//
// Usage:
//
//	vbat-gcs [flags]
//
// Flags:
//
//	-listen string        Listen address (default ":5790")
//	-params string        Parameter table file (default: embedded)
//	-schema string        Message definitions file (default: embedded)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write a protocol capture to this file
//	-browse               Log devices announcing over mDNS
//	-interactive          Enable interactive command mode
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

	"github.com/vbat-sim/vbat-go/cmd/vbat-gcs/interactive"
	"github.com/vbat-sim/vbat-go/pkg/discovery"
	plog "github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/peer"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

var (
	listen      = flag.String("listen", fmt.Sprintf(":%d", discovery.DefaultPort), "Listen address")
	paramsPath  = flag.String("params", "", "Parameter table file (default: embedded)")
	schemaPath  = flag.String("schema", "", "Message definitions file (default: embedded)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "Write a protocol capture to this file")
	browse      = flag.Bool("browse", false, "Log devices announcing over mDNS")
	interact    = flag.Bool("interactive", false, "Enable interactive command mode")
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "vbat-gcs: %v\n", err)
		os.Exit(2)
	}
	out := &logOutput{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, out); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, out *logOutput) error {
	set, err := schema.Default()
	if *schemaPath != "" {
		set, err = schema.Load(*schemaPath)
	}
	if err != nil {
		return fmt.Errorf("load message definitions: %w", err)
	}

	table, err := peer.DefaultTable()
	if *paramsPath != "" {
		table, err = peer.LoadTable(*paramsPath)
	}
	if err != nil {
		return fmt.Errorf("load parameter table: %w", err)
	}

	var capture plog.Logger
	if *protocolLog != "" {
		fl, err := plog.NewFileLogger(*protocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fl.Close()
		capture = fl
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var console *interactive.Console
	gcs, err := peer.New(peer.Config{
		Address:        *listen,
		Messages:       set,
		Params:         table,
		Logger:         logger,
		ProtocolLogger: capture,
	})
	if err != nil {
		return err
	}

	if *interact {
		console, err = interactive.New(gcs)
		if err != nil {
			return err
		}
		out.Set(console.Stdout())
	}

	if err := gcs.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer gcs.Stop()
	logger.Info("ground station listening", "addr", gcs.Addr(), "params", table.Len())

	if *browse {
		go browseDevices(ctx, logger)
	}
	if console != nil {
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func browseDevices(ctx context.Context, logger *slog.Logger) {
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		logger.Warn("mDNS browse unavailable", "error", err)
		return
	}
	defer browser.Stop()

	found, err := browser.BrowseDevices(ctx)
	if err != nil {
		logger.Warn("mDNS browse failed", "error", err)
		return
	}

	for svc := range discovery.FilterBrowseResults(found, discovery.FilterByType("BATTERY")) {
		endpoint, _ := svc.Endpoint()
		logger.Info("device announced",
			"instance", svc.InstanceName,
			"sysid", svc.SystemID,
			"compid", svc.ComponentID,
			"remaining", svc.BatteryRemaining,
			"endpoint", endpoint)
	}
}

// logOutput lets the console take over log output once it exists.
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
