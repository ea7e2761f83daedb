package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive defaults. A silent peer is detected within
// PingInterval*MaxMissedPongs + PongTimeout, 7s with these values.
const (
	DefaultPingInterval   = 2 * time.Second
	DefaultPongTimeout    = 1 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures link liveness probing.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongTimeout is how long a ping may stay unanswered before it counts
	// as missed.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// MaxMissedPongs is the number of consecutive missed pongs after which
	// the link is declared dead.
	MaxMissedPongs int `yaml:"max_missed_pongs"`
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay returns the worst-case time to detect a silent peer.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// KeepAliveStats is a snapshot of keep-alive state.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	LastLatency  time.Duration
	MissedPongs  int
	CurrentSeq   uint32
}

// KeepAlive sends pings on an interval and reports a timeout once too
// many pongs were missed. onTimeout is called at most once per Start.
type KeepAlive struct {
	config    KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()

	sequence atomic.Uint32
	pongCh   chan uint32

	mu           sync.Mutex
	running      bool
	expired      bool
	stopCh       chan struct{}
	missedPongs  int
	lastPingTime time.Time
	lastPongTime time.Time
	lastLatency  time.Duration
	pendingPing  uint32
	hasPending   bool
}

// NewKeepAlive creates a keep-alive monitor. Zero config values take the
// package defaults.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	return &KeepAlive{
		config:    config.withDefaults(),
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan uint32, 4),
	}
}

// Config returns the effective configuration.
func (ka *KeepAlive) Config() KeepAliveConfig {
	return ka.config
}

// Start begins probing in a background goroutine.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.expired = false
	ka.missedPongs = 0
	ka.stopCh = make(chan struct{})
	stopCh := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stopCh)
}

// Stop ends probing. It is safe to call more than once.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// PongReceived feeds a pong sequence number from the peer.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
	}
}

// IsRunning reports whether probing is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Expired reports whether the timeout has fired.
func (ka *KeepAlive) Expired() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.expired
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		LastLatency:  ka.lastLatency,
		MissedPongs:  ka.missedPongs,
		CurrentSeq:   ka.sequence.Load(),
	}
}

func (ka *KeepAlive) loop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	ka.ping()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case seq := <-ka.pongCh:
			ka.handlePong(seq)
		case <-ticker.C:
			if ka.handleTick() {
				return
			}
		}
	}
}

func (ka *KeepAlive) ping() {
	seq := ka.sequence.Add(1)

	ka.mu.Lock()
	ka.lastPingTime = time.Now()
	ka.pendingPing = seq
	ka.hasPending = true
	ka.mu.Unlock()

	// A failed send leaves the ping pending; the pong timeout counts it.
	_ = ka.sendPing(seq)
}

// handleTick returns true once the timeout has fired.
func (ka *KeepAlive) handleTick() bool {
	ka.mu.Lock()
	if ka.hasPending && time.Since(ka.lastPingTime) >= ka.config.PongTimeout {
		ka.missedPongs++
		ka.hasPending = false

		if ka.missedPongs >= ka.config.MaxMissedPongs {
			ka.expired = true
			ka.running = false
			ka.mu.Unlock()
			if ka.onTimeout != nil {
				ka.onTimeout()
			}
			return true
		}
	}
	ka.mu.Unlock()

	ka.ping()
	return false
}

func (ka *KeepAlive) handlePong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.lastPongTime = now

	// Late pongs for earlier pings are ignored.
	if ka.hasPending && seq == ka.pendingPing {
		ka.lastLatency = now.Sub(ka.lastPingTime)
		ka.hasPending = false
		ka.missedPongs = 0
	}
}
