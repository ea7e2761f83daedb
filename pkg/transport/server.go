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

	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// DefaultPort is the TCP port the ground station listens on.
const DefaultPort = 5790

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("server already running")

// ServerConfig configures the accepting side of the protocol.
type ServerConfig struct {
	Identity  Identity
	Messages  *schema.MessageSet
	Heartbeat *schema.Message

	// Address to listen on (e.g., ":5790" or "127.0.0.1:0").
	Address string

	HandshakeTimeout  time.Duration
	KeepAlive         KeepAliveConfig
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// OnLink is called on its own goroutine for each link that completed
	// the handshake. The link is closed when OnLink returns.
	OnLink func(ctx context.Context, link *Link)

	// OnError is called for accept and handshake failures.
	OnError func(err error)
}

// Server accepts device connections and completes the handshake on each.
type Server struct {
	config   ServerConfig
	link     LinkConfig
	logger   *slog.Logger
	listener net.Listener

	links   map[*Link]struct{}
	linksMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer validates the configuration. A nil Heartbeat is built from
// the message set as the ground-station heartbeat.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	lc := LinkConfig{
		Identity:          config.Identity,
		Messages:          config.Messages,
		Heartbeat:         config.Heartbeat,
		KeepAlive:         config.KeepAlive,
		HeartbeatInterval: config.HeartbeatInterval,
		WriteTimeout:      config.WriteTimeout,
		Role:              log.RoleGroundStation,
		Logger:            config.Logger,
		ProtocolLogger:    config.ProtocolLogger,
	}.withDefaults()
	if err := lc.validate(); err != nil {
		return nil, err
	}
	if lc.Heartbeat == nil {
		hb, err := NewHeartbeat(lc.Messages, GroundStationHeartbeat)
		if err != nil {
			return nil, err
		}
		lc.Heartbeat = hb
	}

	return &Server{
		config: config,
		link:   lc,
		logger: lc.Logger,
		links:  make(map[*Link]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.logger.Info("listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every link, then waits for handlers.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	_ = s.listener.Close()

	for _, l := range s.Links() {
		_ = l.Close()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Links returns the currently open links.
func (s *Server) Links() []*Link {
	s.linksMu.RLock()
	defer s.linksMu.RUnlock()

	out := make([]*Link, 0, len(s.links))
	for l := range s.links {
		out = append(out, l)
	}
	return out
}

// LinkCount returns the number of open links.
func (s *Server) LinkCount() int {
	s.linksMu.RLock()
	defer s.linksMu.RUnlock()
	return len(s.links)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.reportError(fmt.Errorf("accept: %w", err))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	link := newLink(conn, s.link)
	if err := link.handshake(s.ctx, s.config.HandshakeTimeout); err != nil {
		link.shutdown("handshake failed")
		s.reportError(fmt.Errorf("handshake with %s: %w", conn.RemoteAddr(), err))
		return
	}

	s.linksMu.Lock()
	s.links[link] = struct{}{}
	s.linksMu.Unlock()

	link.start(s.ctx)

	if s.config.OnLink != nil {
		s.config.OnLink(s.ctx, link)
	} else {
		select {
		case <-link.Done():
		case <-s.ctx.Done():
		}
	}
	_ = link.Close()

	s.linksMu.Lock()
	delete(s.links, link)
	s.linksMu.Unlock()
}

func (s *Server) reportError(err error) {
	s.logger.Debug("server error", "error", err)
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}
