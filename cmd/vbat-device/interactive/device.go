// Package interactive provides the interactive command-line interface
// for the vbat device.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/vbat-sim/vbat-go/pkg/connection"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/scheduler"
)

// Connection is the part of the lifecycle manager the console shows.
type Connection interface {
	Info() connection.Info
	Disconnect()
}

// Params is the part of the parameter store the console reads and writes.
type Params interface {
	Snapshot() map[string]float64
	Write(id string, value float64) bool
}

// Loop reports scheduler progress.
type Loop interface {
	Status() scheduler.Status
}

// DeviceConfig provides configuration information to the console.
type DeviceConfig interface {
	Identity() string
	Endpoint() string
}

// Device handles interactive mode for vbat-device.
type Device struct {
	conn   Connection
	params Params
	loop   Loop
	config DeviceConfig
	rl     *readline.Instance
	out    io.Writer
}

// New creates a new interactive device handler.
func New(conn Connection, params Params, loop Loop, cfg DeviceConfig) (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vbat> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("status"),
			readline.PcItem("params"),
			readline.PcItem("set", paramItems()...),
			readline.PcItem("conn"),
			readline.PcItem("disconnect"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	d := newDevice(conn, params, loop, cfg, rl.Stdout())
	d.rl = rl
	return d, nil
}

func newDevice(conn Connection, params Params, loop Loop, cfg DeviceConfig, out io.Writer) *Device {
	return &Device{conn: conn, params: params, loop: loop, config: cfg, out: out}
}

func paramItems() []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, 0, len(param.Known()))
	for _, id := range param.Known() {
		items = append(items, readline.PcItem(id))
	}
	return items
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output.
func (d *Device) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Run starts the interactive command loop. quit or EOF cancels ctx.
func (d *Device) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(d.out, "Exiting...")
			cancel()
			return
		}

		if d.execute(line) {
			fmt.Fprintln(d.out, "Exiting...")
			cancel()
			return
		}
	}
}

// execute runs one command line and reports whether the console should exit.
func (d *Device) execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		d.printHelp()
	case "status", "s":
		d.cmdStatus()
	case "params", "p":
		d.cmdParams()
	case "set":
		d.cmdSet(args)
	case "conn", "c":
		d.cmdConn()
	case "disconnect":
		d.conn.Disconnect()
		fmt.Fprintln(d.out, "Link dropped; the loop will reconnect.")
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(d.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (d *Device) printHelp() {
	fmt.Fprintln(d.out, `
Commands:
  status              Battery state and connection state
  params              Parameters received so far
  set <ID> <value>    Write a parameter locally
  conn                Link details
  disconnect          Drop the current link
  help                Show this help
  quit                Exit`)
}

func (d *Device) cmdStatus() {
	st := d.loop.Status()
	info := d.conn.Info()
	b := st.Battery

	fmt.Fprintf(d.out, "Device:      %s -> %s\n", d.config.Identity(), d.config.Endpoint())
	fmt.Fprintf(d.out, "Connection:  %s\n", info.State)
	fmt.Fprintf(d.out, "Voltage:     %.3f V\n", b.VoltageV)
	fmt.Fprintf(d.out, "Current:     %.2f A\n", b.CurrentA)
	fmt.Fprintf(d.out, "Consumed:    %.3f mAh\n", b.ConsumedMAh)
	fmt.Fprintf(d.out, "Charge:      %.2f %%\n", b.StateOfCharge)
	fmt.Fprintf(d.out, "Health:      %.3f %%\n", b.StateOfHealth)
	fmt.Fprintf(d.out, "Temperature: %.1f C\n", b.TemperatureC)
	fmt.Fprintf(d.out, "Iterations:  %d (published %d)\n", st.Iterations, st.Published)
	if !st.LastPublish.IsZero() {
		fmt.Fprintf(d.out, "Last sent:   %s ago\n", time.Since(st.LastPublish).Truncate(time.Millisecond))
	}
}

func (d *Device) cmdParams() {
	snap := d.params.Snapshot()
	if len(snap) == 0 {
		fmt.Fprintln(d.out, "No parameters received.")
		return
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Fprintf(d.out, "  %-18s %g\n", id, snap[id])
	}
	fmt.Fprintf(d.out, "%d of %d known parameters\n", len(snap), len(param.Known()))
}

func (d *Device) cmdSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(d.out, "Usage: set <ID> <value>")
		fmt.Fprintln(d.out, "  Example: set BAT1_CAPACITY 5000")
		return
	}

	id := strings.ToUpper(args[0])
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(d.out, "Invalid value: %v\n", err)
		return
	}

	if !d.params.Write(id, value) {
		fmt.Fprintf(d.out, "Unknown parameter: %s\n", id)
		return
	}
	fmt.Fprintf(d.out, "%s = %g\n", id, value)
}

func (d *Device) cmdConn() {
	info := d.conn.Info()

	fmt.Fprintf(d.out, "State:     %s\n", info.State)
	if info.LinkID != "" {
		fmt.Fprintf(d.out, "Link:      %s\n", info.LinkID)
	}
	if !info.ConnectedSince.IsZero() {
		fmt.Fprintf(d.out, "Connected: %s\n", info.ConnectedSince.Format(time.TimeOnly))
	}
	fmt.Fprintf(d.out, "Attempts:  %d (%d failed)\n", info.Attempts, info.Failures)
	if info.LastError != "" {
		fmt.Fprintf(d.out, "Last error: %s\n", info.LastError)
	}
	if !info.NextAttempt.IsZero() {
		fmt.Fprintf(d.out, "Next try:  %s\n", info.NextAttempt.Format(time.TimeOnly))
	}
}
