package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/schema"
	"github.com/vbat-sim/vbat-go/pkg/wire"
)

// Link defaults.
const (
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultWriteTimeout      = 1 * time.Second
	DefaultHandshakeTimeout  = 2 * time.Second

	// MessageBufferSize is the capacity of the inbound message channel.
	MessageBufferSize = 64
)

// Link errors.
var (
	ErrLinkClosed       = errors.New("link closed")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrNoMessageSet     = errors.New("message set is required")
)

// LinkConfig carries the settings shared by every link of a runtime or server.
type LinkConfig struct {
	Identity          Identity
	Messages          *schema.MessageSet
	Heartbeat         *schema.Message
	KeepAlive         KeepAliveConfig
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    uint32
	Role              log.Role

	// Logger is used for operational logging (nil means slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives frame, message and state capture events.
	ProtocolLogger log.Logger
}

func (c LinkConfig) withDefaults() LinkConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.KeepAlive = c.KeepAlive.withDefaults()
	return c
}

func (c LinkConfig) validate() error {
	if c.Messages == nil {
		return ErrNoMessageSet
	}
	if c.Identity.SystemID == 0 {
		return wire.ErrNoSystemID
	}
	return nil
}

// Link is a live connection to exactly one peer. After the handshake it
// runs a reader goroutine, a heartbeat ticker and keep-alive pings.
// Inbound schema messages are delivered on Messages(); the channel is
// closed when the link shuts down.
type Link struct {
	id     string
	conn   net.Conn
	framer *Framer
	config LinkConfig
	logger *slog.Logger
	plog   log.Logger

	seq       atomic.Uint32
	alive     atomic.Bool
	keepAlive *KeepAlive
	messages  chan *schema.Message

	peerMu sync.RWMutex
	peer   Peer

	writeMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
	reason    atomic.Value
	wg        sync.WaitGroup
}

func newLink(conn net.Conn, config LinkConfig) *Link {
	id := uuid.New().String()
	l := &Link{
		id:       id,
		conn:     conn,
		framer:   NewFramerWithMaxSize(conn, config.MaxMessageSize),
		config:   config,
		logger:   config.Logger.With("conn_id", id, "remote", conn.RemoteAddr().String()),
		plog:     config.ProtocolLogger,
		messages: make(chan *schema.Message, MessageBufferSize),
		closeCh:  make(chan struct{}),
	}
	if l.plog != nil {
		l.framer.SetLogger(l.plog, id)
	}
	l.keepAlive = NewKeepAlive(config.KeepAlive, l.sendPing, func() {
		l.shutdown("keep-alive timeout")
	})
	return l
}

// ID returns the link's unique connection ID.
func (l *Link) ID() string { return l.id }

// RemoteAddr returns the peer's network address.
func (l *Link) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

// LocalAddr returns the local network address.
func (l *Link) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Peer returns the peer identity from its most recent heartbeat.
func (l *Link) Peer() Peer {
	l.peerMu.RLock()
	defer l.peerMu.RUnlock()
	return l.peer
}

// Alive reports whether the link is usable. It turns false after a read
// error, a close from either side, a keep-alive timeout or a write failure,
// and never turns true again.
func (l *Link) Alive() bool {
	return l.alive.Load()
}

// Messages returns the inbound message channel.
func (l *Link) Messages() <-chan *schema.Message {
	return l.messages
}

// Done is closed when the link shuts down.
func (l *Link) Done() <-chan struct{} {
	return l.closeCh
}

// CloseReason returns why the link shut down, or "" while it is open.
func (l *Link) CloseReason() string {
	if r, ok := l.reason.Load().(string); ok {
		return r
	}
	return ""
}

// KeepAliveStats returns the link's keep-alive statistics.
func (l *Link) KeepAliveStats() KeepAliveStats {
	return l.keepAlive.Stats()
}

// Send encodes msg as a packet from this end and writes it.
// A write failure shuts the link down.
func (l *Link) Send(msg *schema.Message) error {
	if !l.Alive() {
		return ErrLinkClosed
	}
	if err := l.sendMessage(msg); err != nil {
		l.shutdown("write failed")
		return err
	}
	return nil
}

// Close announces the close to the peer and shuts the link down.
func (l *Link) Close() error {
	if l.Alive() {
		if data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlClose}); err == nil {
			if l.writeFrame(data) == nil {
				l.logControl(wire.ControlClose, 0, log.DirectionOut)
			}
		}
	}
	l.shutdown("closed locally")
	l.wg.Wait()
	return nil
}

func (l *Link) sendMessage(msg *schema.Message) error {
	seq := uint8(l.seq.Add(1) - 1)
	pkt := msg.Packet(l.config.Identity.SystemID, l.config.Identity.ComponentID, seq)

	data, err := wire.EncodePacket(pkt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Name(), err)
	}
	if err := l.writeFrame(data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Name(), err)
	}
	l.logMessage(msg, pkt, log.DirectionOut)
	return nil
}

func (l *Link) writeFrame(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout)); err != nil {
		return err
	}
	return l.framer.WriteFrame(data)
}

func (l *Link) sendPing(seq uint32) error {
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPing, Sequence: seq})
	if err != nil {
		return err
	}
	if err := l.writeFrame(data); err != nil {
		return err
	}
	l.logControl(wire.ControlPing, seq, log.DirectionOut)
	return nil
}

// handshake sends this end's heartbeat and reads frames until the peer's
// heartbeat arrives, the timeout passes or ctx is cancelled.
func (l *Link) handshake(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer l.conn.SetReadDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if l.config.Heartbeat != nil {
		if err := l.sendMessage(l.config.Heartbeat); err != nil {
			return err
		}
	}

	for {
		data, err := l.framer.ReadFrame()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrHandshakeTimeout
			}
			return fmt.Errorf("handshake: %w", err)
		}

		msg, pkt, ok := l.handleFrame(data)
		if !ok {
			continue
		}
		if msg.Name() == HeartbeatMessage {
			l.setPeer(peerFromHeartbeat(msg, pkt.SystemID, pkt.ComponentID))
			return nil
		}
		l.logger.Debug("dropping message received before heartbeat", "msg", msg.Name())
	}
}

// start marks the link alive and launches its goroutines.
func (l *Link) start(ctx context.Context) {
	l.alive.Store(true)
	l.logState("", "OPEN", "handshake complete")
	l.logger.Info("link established", "peer", l.Peer().Identity.String())

	l.wg.Add(2)
	go l.readLoop()
	go l.heartbeatLoop()
	l.keepAlive.Start(ctx)
}

func (l *Link) readLoop() {
	defer l.wg.Done()
	defer close(l.messages)
	defer l.shutdown("read loop ended")

	for {
		data, err := l.framer.ReadFrame()
		if err != nil {
			select {
			case <-l.closeCh:
			default:
				l.logger.Debug("read failed", "error", err)
				l.logError(err, "read frame")
			}
			return
		}

		msg, pkt, ok := l.handleFrame(data)
		if !ok {
			continue
		}
		if msg.Name() == HeartbeatMessage {
			l.setPeer(peerFromHeartbeat(msg, pkt.SystemID, pkt.ComponentID))
		}

		select {
		case l.messages <- msg:
		case <-l.closeCh:
			return
		default:
			l.logger.Warn("inbound buffer full, dropping message", "msg", msg.Name())
		}
	}
}

// handleFrame answers control messages and decodes data packets. It
// returns ok only for a decoded schema message.
func (l *Link) handleFrame(data []byte) (*schema.Message, *wire.Packet, bool) {
	kind, err := wire.PeekMessageType(data)
	if err != nil {
		l.logger.Debug("dropping unrecognized frame", "error", err)
		return nil, nil, false
	}

	if kind == wire.MessageTypeControl {
		ctrl, err := wire.DecodeControlMessage(data)
		if err == nil {
			l.handleControl(ctrl)
		}
		return nil, nil, false
	}

	pkt, err := wire.DecodePacket(data)
	if err != nil {
		l.logger.Debug("dropping malformed packet", "error", err)
		l.logError(err, "decode packet")
		return nil, nil, false
	}
	msg, err := l.config.Messages.Decode(pkt)
	if err != nil {
		l.logger.Debug("dropping packet", "msg_id", pkt.MessageID, "error", err)
		l.logError(err, "decode message")
		return nil, nil, false
	}
	l.logMessage(msg, pkt, log.DirectionIn)
	return msg, pkt, true
}

func (l *Link) handleControl(ctrl *wire.ControlMessage) {
	l.logControl(ctrl.Type, ctrl.Sequence, log.DirectionIn)

	switch ctrl.Type {
	case wire.ControlPing:
		data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPong, Sequence: ctrl.Sequence})
		if err != nil {
			return
		}
		if err := l.writeFrame(data); err == nil {
			l.logControl(wire.ControlPong, ctrl.Sequence, log.DirectionOut)
		}
	case wire.ControlPong:
		l.keepAlive.PongReceived(ctrl.Sequence)
	case wire.ControlClose:
		l.shutdown("closed by peer")
	}
}

func (l *Link) heartbeatLoop() {
	defer l.wg.Done()
	if l.config.Heartbeat == nil {
		return
	}

	ticker := time.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closeCh:
			return
		case <-ticker.C:
			if err := l.Send(l.config.Heartbeat); err != nil {
				l.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (l *Link) setPeer(p Peer) {
	l.peerMu.Lock()
	l.peer = p
	l.peerMu.Unlock()
}

func (l *Link) shutdown(reason string) {
	l.closeOnce.Do(func() {
		wasAlive := l.alive.Swap(false)
		l.reason.Store(reason)
		close(l.closeCh)
		l.keepAlive.Stop()
		_ = l.conn.Close()

		if wasAlive {
			l.logState("OPEN", "CLOSED", reason)
			l.logger.Info("link closed", "reason", reason)
		}
	})
}

func (l *Link) event(dir log.Direction, layer log.Layer, cat log.Category) log.Event {
	peer := l.Peer()
	return log.Event{
		Timestamp:       time.Now(),
		ConnectionID:    l.id,
		Direction:       dir,
		Layer:           layer,
		Category:        cat,
		LocalRole:       l.config.Role,
		RemoteAddr:      l.conn.RemoteAddr().String(),
		PeerSystemID:    peer.SystemID,
		PeerComponentID: peer.ComponentID,
	}
}

func (l *Link) logMessage(msg *schema.Message, pkt *wire.Packet, dir log.Direction) {
	if l.plog == nil {
		return
	}
	e := l.event(dir, log.LayerWire, log.CategoryMessage)
	e.Message = &log.MessageEvent{
		Name:        msg.Name(),
		MessageID:   pkt.MessageID,
		SystemID:    pkt.SystemID,
		ComponentID: pkt.ComponentID,
		Sequence:    pkt.Sequence,
		Fields:      msg.Fields(),
	}
	l.plog.Log(e)
}

func (l *Link) logControl(t wire.ControlMessageType, seq uint32, dir log.Direction) {
	if l.plog == nil {
		return
	}
	var ct log.ControlMsgType
	switch t {
	case wire.ControlPing:
		ct = log.ControlMsgPing
	case wire.ControlPong:
		ct = log.ControlMsgPong
	case wire.ControlClose:
		ct = log.ControlMsgClose
	default:
		return
	}
	e := l.event(dir, log.LayerTransport, log.CategoryControl)
	e.ControlMsg = &log.ControlMsgEvent{Type: ct, Sequence: seq}
	l.plog.Log(e)
}

func (l *Link) logState(from, to, reason string) {
	if l.plog == nil {
		return
	}
	e := l.event(log.DirectionIn, log.LayerTransport, log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityLink,
		OldState: from,
		NewState: to,
		Reason:   reason,
	}
	l.plog.Log(e)
}

func (l *Link) logError(err error, op string) {
	if l.plog == nil {
		return
	}
	e := l.event(log.DirectionIn, log.LayerWire, log.CategoryError)
	e.Error = &log.ErrorEventData{Layer: log.LayerWire, Message: err.Error(), Context: op}
	l.plog.Log(e)
}
