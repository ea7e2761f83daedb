package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/connection"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/schema"
	"github.com/vbat-sim/vbat-go/pkg/telemetry"
)

// Default timing.
const (
	DefaultConnectTimeout = connection.DefaultConnectTimeout
	DefaultPublishPeriod  = 1 * time.Second
)

// Connection is the part of the lifecycle manager the loop drives.
type Connection interface {
	IsConnected() bool
	PollLiveness() bool
	AttemptConnect(ctx context.Context, timeout time.Duration) error
	Send(msg *schema.Message) error
}

// Config configures the loop.
type Config struct {
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// PublishPeriod is the minimum time between two status publishes.
	PublishPeriod time.Duration

	// TickInterval is slept after every iteration. Zero runs iterations
	// back to back.
	TickInterval time.Duration

	// Now returns the current time (nil means time.Now).
	Now func() time.Time

	// Sleep waits for d or until ctx is done (nil means a timer wait).
	Sleep func(ctx context.Context, d time.Duration)

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishPeriod <= 0 {
		c.PublishPeriod = DefaultPublishPeriod
	}
	if c.TickInterval < 0 {
		c.TickInterval = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Iteration reports what one pass of the loop did.
type Iteration struct {
	Connected bool
	State     battery.State
	Published bool
}

// Status is a snapshot for status displays.
type Status struct {
	Battery     battery.State
	Iterations  uint64
	Published   uint64
	LastPublish time.Time
}

// Scheduler owns the battery model and drives the connection.
type Scheduler struct {
	conn    Connection
	model   *battery.Model
	params  param.Reader
	encoder *telemetry.Encoder
	config  Config
	logger  *slog.Logger

	lastPublish time.Time

	mu     sync.Mutex
	status Status
}

// New creates a scheduler. The model is only touched from the loop goroutine.
func New(conn Connection, model *battery.Model, params param.Reader, encoder *telemetry.Encoder, config Config) *Scheduler {
	config = config.withDefaults()
	return &Scheduler{
		conn:    conn,
		model:   model,
		params:  params,
		encoder: encoder,
		config:  config,
		logger:  config.Logger,
		status:  Status{Battery: model.State()},
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Status returns a snapshot of the last iteration. Safe to call from any
// goroutine.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run iterates until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"connect_timeout", s.config.ConnectTimeout,
		"publish_period", s.config.PublishPeriod,
		"tick_interval", s.config.TickInterval)

	var timer *time.Timer
	if s.config.TickInterval > 0 {
		timer = time.NewTimer(s.config.TickInterval)
		defer timer.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.RunIteration(ctx)

		if timer == nil {
			continue
		}
		timer.Reset(s.config.TickInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunIteration runs one pass of the loop.
func (s *Scheduler) RunIteration(ctx context.Context) Iteration {
	var it Iteration

	if s.conn.IsConnected() {
		s.conn.PollLiveness()
	}
	if !s.conn.IsConnected() {
		started := s.config.Now()
		if err := s.conn.AttemptConnect(ctx, s.config.ConnectTimeout); err != nil {
			s.logger.Debug("connect attempt", "error", err)
			// A disconnected loop runs at most once per connect timeout.
			if rest := s.config.ConnectTimeout - s.config.Now().Sub(started); rest > 0 {
				s.config.Sleep(ctx, rest)
			}
		}
	}
	it.Connected = s.conn.IsConnected()

	it.State = s.model.Tick(s.params)

	now := s.config.Now()
	if s.lastPublish.IsZero() || now.Sub(s.lastPublish) >= s.config.PublishPeriod {
		it.Published = s.publish(it.State)
		if it.Published {
			s.lastPublish = now
		}
	}

	s.mu.Lock()
	s.status.Battery = it.State
	s.status.Iterations++
	if it.Published {
		s.status.Published++
		s.status.LastPublish = now
	}
	s.mu.Unlock()

	return it
}

func (s *Scheduler) publish(state battery.State) bool {
	msg, err := s.encoder.Encode(state)
	if err != nil {
		s.logger.Warn("failed to encode battery status", "error", err)
		return false
	}

	switch err := s.conn.Send(msg); {
	case err == nil:
		return true
	case errors.Is(err, connection.ErrNotConnected):
		s.logger.Debug("battery status not sent", "error", err)
	default:
		s.logger.Info("battery status send failed", "error", err)
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
