// Package interactive provides the operator console of the ground station.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/vbat-sim/vbat-go/pkg/peer"
)

// GroundStation is the part of peer.Peer the console drives.
type GroundStation interface {
	Links() []peer.LinkInfo
	Params() *peer.Table
	SetParam(id string, value float64) (int, error)
}

// Console handles interactive mode for vbat-gcs.
type Console struct {
	gcs GroundStation
	rl  *readline.Instance
	out io.Writer
}

// New creates a console.
func New(gcs GroundStation) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gcs> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{gcs: gcs, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the command loop. quit or EOF cancels ctx.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return
		}
		if c.execute(line) {
			cancel()
			return
		}
	}
}

func (c *Console) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "help", "?":
		c.printHelp()
	case "links", "l":
		c.cmdLinks()
	case "status", "s":
		c.cmdStatus()
	case "params", "p":
		c.cmdParams()
	case "set":
		c.cmdSet(parts[1:])
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", parts[0])
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  links               Connected devices
  status              Latest battery status per device
  params              Parameter table
  set <ID> <value>    Update a parameter and push it to all devices
  help                Show this help
  quit                Exit`)
}

func (c *Console) cmdLinks() {
	links := c.gcs.Links()
	if len(links) == 0 {
		fmt.Fprintln(c.out, "No devices connected.")
		return
	}
	for _, l := range links {
		fmt.Fprintf(c.out, "  %s  %s  sys %s  up %s  sync %d  params %d\n",
			l.ID, l.RemoteAddr, l.Device.Identity,
			time.Since(l.ConnectedAt).Truncate(time.Second), l.SyncRequests, l.ParamsSent)
	}
}

func (c *Console) cmdStatus() {
	links := c.gcs.Links()
	if len(links) == 0 {
		fmt.Fprintln(c.out, "No devices connected.")
		return
	}
	for _, l := range links {
		if l.StatusAt.IsZero() {
			fmt.Fprintf(c.out, "  %s  (no status yet)\n", l.ID)
			continue
		}
		fmt.Fprintf(c.out, "  %s  %s  (%s ago)\n", l.ID, l.Status,
			time.Since(l.StatusAt).Truncate(time.Millisecond))
	}
}

func (c *Console) cmdParams() {
	for i, e := range c.gcs.Params().Entries() {
		fmt.Fprintf(c.out, "  %2d  %-18s %-12g %s\n", i, e.ID, e.Value, e.Type)
	}
}

func (c *Console) cmdSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: set <ID> <value>")
		return
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid value: %v\n", err)
		return
	}

	id := strings.ToUpper(args[0])
	sent, err := c.gcs.SetParam(id, value)
	switch {
	case errors.Is(err, peer.ErrNoLinks):
		fmt.Fprintf(c.out, "%s = %g (no devices connected)\n", id, value)
	case err != nil:
		fmt.Fprintf(c.out, "Set failed: %v\n", err)
	default:
		fmt.Fprintf(c.out, "%s = %g (sent to %d device(s))\n", id, value, sent)
	}
}
