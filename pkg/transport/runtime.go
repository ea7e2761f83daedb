package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// ErrNoEndpoint is returned when a runtime has no peer address.
var ErrNoEndpoint = errors.New("endpoint address is required")

// DefaultRetryInterval is the pause between dial attempts inside one
// AwaitConnection window.
const DefaultRetryInterval = 100 * time.Millisecond

// RuntimeConfig configures the dialing side of the protocol.
type RuntimeConfig struct {
	Identity  Identity
	Messages  *schema.MessageSet
	Heartbeat *schema.Message

	// Endpoint is the peer address (host:port).
	Endpoint string

	KeepAlive         KeepAliveConfig
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration

	// RetryInterval is the pause between dials while the peer is not
	// reachable. Zero means DefaultRetryInterval.
	RetryInterval time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Runtime dials the configured endpoint and turns each successful
// handshake into a Link. It holds no connection state itself.
type Runtime struct {
	endpoint string
	retry    time.Duration
	link     LinkConfig
	dialer   net.Dialer
}

// NewRuntime validates the configuration. A nil Heartbeat is built from
// the message set as the device heartbeat.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	lc := LinkConfig{
		Identity:          cfg.Identity,
		Messages:          cfg.Messages,
		Heartbeat:         cfg.Heartbeat,
		KeepAlive:         cfg.KeepAlive,
		HeartbeatInterval: cfg.HeartbeatInterval,
		WriteTimeout:      cfg.WriteTimeout,
		Role:              log.RoleDevice,
		Logger:            cfg.Logger,
		ProtocolLogger:    cfg.ProtocolLogger,
	}.withDefaults()
	if err := lc.validate(); err != nil {
		return nil, err
	}

	if lc.Heartbeat == nil {
		hb, err := NewHeartbeat(lc.Messages, DeviceHeartbeat)
		if err != nil {
			return nil, err
		}
		lc.Heartbeat = hb
	}

	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	return &Runtime{endpoint: cfg.Endpoint, retry: retry, link: lc}, nil
}

// Endpoint returns the peer address the runtime dials.
func (r *Runtime) Endpoint() string {
	return r.endpoint
}

// AwaitConnection waits up to timeout for the peer. Refused or dropped
// dials are retried every RetryInterval until a heartbeat handshake
// completes, the window closes or ctx is cancelled. The returned link is
// alive; the caller owns it.
func (r *Runtime) AwaitConnection(ctx context.Context, timeout time.Duration) (*Link, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		link, err := r.dialOnce(ctx, timeout)
		if err == nil {
			// The link outlives the bounded attempt context.
			link.start(context.WithoutCancel(ctx))
			return link, nil
		}
		if errors.Is(err, ErrHandshakeTimeout) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, windowError(ctx, err)
		}
		r.link.Logger.Debug("peer not reachable", "endpoint", r.endpoint, "attempt", attempt, "error", err)

		wait := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, windowError(ctx, err)
		case <-wait.C:
		}
	}
}

func (r *Runtime) dialOnce(ctx context.Context, timeout time.Duration) (*Link, error) {
	conn, err := r.dialer.DialContext(ctx, "tcp", r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.endpoint, err)
	}

	link := newLink(conn, r.link)
	if err := link.handshake(ctx, timeout); err != nil {
		link.shutdown("handshake failed")
		return nil, err
	}
	return link, nil
}

// windowError reports a cancelled ctx as such and otherwise the last
// attempt's error.
func windowError(ctx context.Context, last error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return last
}
