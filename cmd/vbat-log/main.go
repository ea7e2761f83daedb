// Command vbat-log views and summarizes protocol capture files.
//
// Capture files are written by vbat-device and vbat-gcs when run with the
// -protocol-log flag.
//
// Usage:
//
//	vbat-log <command> [flags] <file.vlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only wire-layer events
//	vbat-log view -layer wire device.vlog
//
//	# View incoming parameter values
//	vbat-log view -direction in -message PARAM_VALUE device.vlog
//
//	# Follow the connection lifecycle only
//	vbat-log view -entity connection device.vlog
//
//	# Show statistics
//	vbat-log stats device.vlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vbat-sim/vbat-go/cmd/vbat-log/commands"
)

const usage = `vbat-log - vbat protocol log viewer

Usage:
  vbat-log <command> [flags] <file.vlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV
  stats    Show statistics about the log file

Use "vbat-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// logPath returns the single positional argument or exits with usage.
func logPath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `vbat-log view - View log file in human-readable format

Usage:
  vbat-log view [flags] <file.vlog>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (transport, wire, lifecycle)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	message := fs.String("message", "", "Filter by message name, e.g. BATTERY_STATUS")
	entity := fs.String("entity", "", "Filter state changes by entity (connection, link, subscription)")
	conn := fs.String("conn", "", "Filter by connection ID or its prefix")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	filter := commands.ViewFilter{Message: *message, Connection: *conn}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *entity != "" {
		e, err := commands.ParseEntityFlag(*entity)
		if err != nil {
			fail(err)
		}
		filter.Entity = &e
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `vbat-log export - Export log file to JSONL or CSV

Usage:
  vbat-log export [flags] <file.vlog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := commands.RunExport(logPath(fs), *format, *output); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `vbat-log stats - Show statistics about the log file

Usage:
  vbat-log stats <file.vlog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if err := commands.RunStats(logPath(fs), os.Stdout); err != nil {
		fail(err)
	}
}
