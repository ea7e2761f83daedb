package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/schema"
	"github.com/vbat-sim/vbat-go/pkg/transport"
)

// Message names the peer handles.
const (
	ParamRequestListMessage = "PARAM_REQUEST_LIST"
	ParamValueMessage       = "PARAM_VALUE"
	ParamSetMessage         = "PARAM_SET"
	BatteryStatusMessage    = "BATTERY_STATUS"
)

// DefaultIdentity is the address the peer answers sync requests for.
var DefaultIdentity = transport.Identity{SystemID: 1, ComponentID: 1}

// ErrNoLinks is returned by SetParam when no device is connected.
var ErrNoLinks = errors.New("no device links")

// Config configures a Peer.
type Config struct {
	Identity transport.Identity
	Address  string
	Messages *schema.MessageSet

	// Params is the table served to devices. Nil uses DefaultTable.
	Params *Table

	KeepAlive         transport.KeepAliveConfig
	HeartbeatInterval time.Duration

	// OnStatus is called for every BATTERY_STATUS received.
	OnStatus func(linkID string, status BatteryStatus)

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// LinkInfo describes a connected device.
type LinkInfo struct {
	ID           string
	RemoteAddr   string
	Device       transport.Peer
	ConnectedAt  time.Time
	SyncRequests int
	ParamsSent   int
	Status       BatteryStatus
	StatusAt     time.Time
}

type linkState struct {
	link *transport.Link
	info LinkInfo
}

// Peer is a ground station serving one parameter table to any number of
// device links.
type Peer struct {
	config Config
	params *Table
	server *transport.Server
	logger *slog.Logger

	mu    sync.RWMutex
	links map[string]*linkState
}

// New creates a peer. It does not listen until Start.
func New(config Config) (*Peer, error) {
	if config.Identity == (transport.Identity{}) {
		config.Identity = DefaultIdentity
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Params == nil {
		t, err := DefaultTable()
		if err != nil {
			return nil, err
		}
		config.Params = t
	}

	p := &Peer{
		config: config,
		params: config.Params,
		logger: config.Logger,
		links:  make(map[string]*linkState),
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Identity:          config.Identity,
		Messages:          config.Messages,
		Address:           config.Address,
		KeepAlive:         config.KeepAlive,
		HeartbeatInterval: config.HeartbeatInterval,
		Logger:            config.Logger,
		ProtocolLogger:    config.ProtocolLogger,
		OnLink:            p.serveLink,
		OnError: func(err error) {
			p.logger.Info("device connection failed", "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	p.server = server
	return p, nil
}

// Start begins accepting device links.
func (p *Peer) Start(ctx context.Context) error {
	return p.server.Start(ctx)
}

// Stop closes all links and the listener.
func (p *Peer) Stop() error {
	return p.server.Stop()
}

// Addr returns the listen address.
func (p *Peer) Addr() net.Addr {
	return p.server.Addr()
}

// Params returns the served table.
func (p *Peer) Params() *Table {
	return p.params
}

// Links returns the connected devices sorted by connect time.
func (p *Peer) Links() []LinkInfo {
	p.mu.RLock()
	out := make([]LinkInfo, 0, len(p.links))
	for _, ls := range p.links {
		out = append(out, ls.info)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// LatestStatus returns the last battery status of a link.
func (p *Peer) LatestStatus(linkID string) (BatteryStatus, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ls, ok := p.links[linkID]
	if !ok || ls.info.StatusAt.IsZero() {
		return BatteryStatus{}, time.Time{}, false
	}
	return ls.info.Status, ls.info.StatusAt, true
}

// SetParam updates the table and pushes one PARAM_VALUE to every link.
// Unknown identifiers are added to the table. It returns the number of
// links the value was sent to.
func (p *Peer) SetParam(id string, value float64) (int, error) {
	entry, index, err := p.params.Set(id, value, true)
	if err != nil {
		return 0, err
	}

	p.mu.RLock()
	targets := make([]*linkState, 0, len(p.links))
	for _, ls := range p.links {
		targets = append(targets, ls)
	}
	p.mu.RUnlock()

	if len(targets) == 0 {
		return 0, ErrNoLinks
	}

	sent := 0
	var errs []error
	for _, ls := range targets {
		if err := p.sendParam(ls, entry, index, p.params.Len()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ls.link.ID(), err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (p *Peer) serveLink(ctx context.Context, link *transport.Link) {
	ls := &linkState{
		link: link,
		info: LinkInfo{
			ID:          link.ID(),
			RemoteAddr:  link.RemoteAddr().String(),
			Device:      link.Peer(),
			ConnectedAt: time.Now(),
		},
	}

	p.mu.Lock()
	p.links[link.ID()] = ls
	p.mu.Unlock()

	p.logger.Info("device connected",
		"link", link.ID(),
		"remote", ls.info.RemoteAddr,
		"device", ls.info.Device.Identity.String())

	defer func() {
		p.mu.Lock()
		delete(p.links, link.ID())
		p.mu.Unlock()
		p.logger.Info("device disconnected", "link", link.ID(), "reason", link.CloseReason())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-link.Messages():
			if !ok {
				return
			}
			p.handleMessage(ls, msg)
		}
	}
}

func (p *Peer) handleMessage(ls *linkState, msg *schema.Message) {
	switch msg.Name() {
	case ParamRequestListMessage:
		if !p.addressedToUs(msg) {
			p.logger.Debug("ignoring parameter request for another system", "link", ls.link.ID())
			return
		}
		p.mu.Lock()
		ls.info.SyncRequests++
		p.mu.Unlock()

		if err := p.sendAll(ls); err != nil {
			p.logger.Info("parameter stream failed", "link", ls.link.ID(), "error", err)
		}

	case ParamSetMessage:
		p.handleParamSet(ls, msg)

	case BatteryStatusMessage:
		status, err := DecodeBatteryStatus(msg)
		if err != nil {
			p.logger.Debug("malformed battery status", "link", ls.link.ID(), "error", err)
			return
		}
		p.mu.Lock()
		ls.info.Status = status
		ls.info.StatusAt = time.Now()
		p.mu.Unlock()

		p.logger.Info("battery status", "link", ls.link.ID(), "status", status.String())
		if p.config.OnStatus != nil {
			p.config.OnStatus(ls.link.ID(), status)
		}
	}
}

func (p *Peer) addressedToUs(msg *schema.Message) bool {
	sys, err := msg.Int("target_system")
	if err != nil {
		return false
	}
	comp, err := msg.Int("target_component")
	if err != nil {
		return false
	}
	id := p.config.Identity
	return (sys == 0 || sys == int64(id.SystemID)) && (comp == 0 || comp == int64(id.ComponentID))
}

func (p *Peer) handleParamSet(ls *linkState, msg *schema.Message) {
	if !p.addressedToUs(msg) {
		return
	}
	id, err := msg.Text("param_id")
	if err != nil {
		return
	}
	value, err := msg.Float("param_value")
	if err != nil {
		return
	}

	entry, index, err := p.params.Set(strings.TrimRight(id, "\x00"), value, false)
	if err != nil {
		p.logger.Info("rejected parameter set", "link", ls.link.ID(), "param", id, "error", err)
		return
	}
	if err := p.sendParam(ls, entry, index, p.params.Len()); err != nil {
		p.logger.Info("parameter echo failed", "link", ls.link.ID(), "error", err)
	}
}

func (p *Peer) sendAll(ls *linkState) error {
	entries := p.params.Entries()
	for i, e := range entries {
		if err := p.sendParam(ls, e, i, len(entries)); err != nil {
			return err
		}
	}
	p.logger.Info("parameters sent", "link", ls.link.ID(), "count", len(entries))
	return nil
}

func (p *Peer) sendParam(ls *linkState, e ParamEntry, index, count int) error {
	msg, err := p.paramValue(e, index, count)
	if err != nil {
		return err
	}
	if err := ls.link.Send(msg); err != nil {
		return err
	}
	p.mu.Lock()
	ls.info.ParamsSent++
	p.mu.Unlock()
	return nil
}

func (p *Peer) paramValue(e ParamEntry, index, count int) (*schema.Message, error) {
	kind, err := p.config.Messages.Enum(e.Type)
	if err != nil {
		return nil, fmt.Errorf("param %s: %w", e.ID, err)
	}
	msg, err := p.config.Messages.Create(ParamValueMessage)
	if err != nil {
		return nil, err
	}
	return msg.SetFromMap(map[string]any{
		"param_id":    e.ID,
		"param_value": e.Value,
		"param_type":  kind,
		"param_count": count,
		"param_index": index,
	})
}
