package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// SyncRequestMessage is sent once per link to ask the peer for its parameters.
const SyncRequestMessage = "PARAM_REQUEST_LIST"

// DefaultConnectTimeout bounds one connection attempt.
const DefaultConnectTimeout = 2 * time.Second

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrBackoff          = errors.New("connection attempt deferred by backoff")
	ErrNoLink           = errors.New("connect returned no link")
	ErrInterrupted      = errors.New("link discarded while connecting")
)

// State is the lifecycle state of the Manager.
type State uint8

const (
	// StateDisconnected means there is no link. It is the initial state.
	StateDisconnected State = iota

	// StateAwaitingHandshake means a link exists but parameter sync has
	// not been set up yet.
	StateAwaitingHandshake

	// StateSyncingParameters means the subscription is registered and the
	// sync request is being sent.
	StateSyncingParameters

	// StateConnected means the link is up and synced.
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case StateSyncingParameters:
		return "SYNCING_PARAMETERS"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Link is the part of a transport link the manager uses.
type Link interface {
	ID() string
	Alive() bool
	Send(msg *schema.Message) error
	Messages() <-chan *schema.Message
	Close() error
}

// ConnectFunc establishes a link within timeout, including the handshake.
type ConnectFunc func(ctx context.Context, timeout time.Duration) (Link, error)

// SyncTarget addresses the parameter sync request.
type SyncTarget struct {
	System    uint8
	Component uint8
}

// DefaultSyncTarget is the autopilot of system 1.
var DefaultSyncTarget = SyncTarget{System: 1, Component: 1}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Messages   *schema.MessageSet
	Params     param.Writer
	SyncTarget SyncTarget

	// Backoff enables skipping attempts after failures. Nil disables it.
	Backoff *BackoffConfig

	// Now returns the current time (nil means time.Now).
	Now func() time.Time

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Info is a snapshot of the manager for status displays.
type Info struct {
	State          State
	LinkID         string
	Attempts       int
	Failures       int
	LastError      string
	ConnectedSince time.Time
	NextAttempt    time.Time
}

// Manager owns the current link and its subscription. All methods are
// safe for concurrent use, but the scheduler is expected to be the only
// caller of AttemptConnect and PollLiveness.
type Manager struct {
	connectFn ConnectFunc
	config    ManagerConfig
	logger    *slog.Logger
	plog      log.Logger
	backoff   *Backoff

	mu             sync.Mutex
	state          State
	link           Link
	sub            *Subscription
	connecting     bool
	attempts       int
	failures       int
	lastErr        error
	connectedSince time.Time
	nextAttempt    time.Time
	listeners      []func(from, to State)
}

// NewManager creates a manager in StateDisconnected.
func NewManager(connectFn ConnectFunc, config ManagerConfig) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.SyncTarget == (SyncTarget{}) {
		config.SyncTarget = DefaultSyncTarget
	}

	m := &Manager{
		connectFn: connectFn,
		config:    config,
		logger:    config.Logger,
		plog:      log.OrNoop(config.ProtocolLogger),
		state:     StateDisconnected,
	}
	if config.Backoff != nil {
		m.backoff = NewBackoffWithConfig(*config.Backoff)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is StateConnected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Link returns the current link, or nil when there is none.
func (m *Manager) Link() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// Info returns a snapshot for status displays.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		State:          m.state,
		Attempts:       m.attempts,
		Failures:       m.failures,
		ConnectedSince: m.connectedSince,
		NextAttempt:    m.nextAttempt,
	}
	if m.link != nil {
		info.LinkID = m.link.ID()
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

// OnStateChange registers a callback invoked after every transition.
// Callbacks run on the goroutine that caused the transition.
func (m *Manager) OnStateChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// AttemptConnect tries to establish a link, blocking for at most timeout.
// On success the manager ends in StateConnected after sending exactly one
// sync request. On failure it stays in StateDisconnected and the error is
// returned for logging; no failure is fatal.
func (m *Manager) AttemptConnect(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	m.mu.Lock()
	if m.state != StateDisconnected || m.connecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.backoff != nil && m.config.Now().Before(m.nextAttempt) {
		next := m.nextAttempt
		m.mu.Unlock()
		return fmt.Errorf("%w until %s", ErrBackoff, next.Format(time.TimeOnly))
	}
	m.attempts++
	m.connecting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	link, err := m.connectFn(ctx, timeout)
	if err == nil && link == nil {
		err = ErrNoLink
	}
	if err != nil {
		m.fail(err)
		m.logger.Info("connection attempt failed", "error", err)
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	m.link = link
	m.mu.Unlock()
	if !m.transitionFor(link, StateAwaitingHandshake, "link established") {
		return m.interrupted(link, nil)
	}

	sub := subscribe(link.ID(), link.Messages(), m.config.Params, m.logger)
	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return m.interrupted(link, sub)
	}
	m.sub = sub
	m.mu.Unlock()
	m.logSubscription("ACTIVE", link.ID())
	if !m.transitionFor(link, StateSyncingParameters, "subscription registered") {
		return m.interrupted(link, nil)
	}

	if err := m.requestSync(link); err != nil {
		if !m.owns(link) {
			return m.interrupted(link, nil)
		}
		m.discard("sync request failed")
		m.fail(err)
		m.logger.Info("parameter sync request failed", "error", err)
		return fmt.Errorf("sync: %w", err)
	}

	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return m.interrupted(link, nil)
	}
	m.connectedSince = m.config.Now()
	m.lastErr = nil
	if m.backoff != nil {
		m.backoff.Reset()
		m.nextAttempt = time.Time{}
	}
	m.mu.Unlock()
	if !m.transitionFor(link, StateConnected, "parameter sync requested") {
		return m.interrupted(link, nil)
	}
	m.logger.Info("connected", "link", link.ID())
	return nil
}

// owns reports whether link is still the current link.
func (m *Manager) owns(link Link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link == link
}

// interrupted cleans up after a Disconnect raced an in-flight connect.
// The link was already discarded, so the state is left to that discard.
func (m *Manager) interrupted(link Link, sub *Subscription) error {
	if sub != nil {
		sub.Cancel()
	}
	_ = link.Close()
	m.logger.Info("connection attempt interrupted", "link", link.ID())
	return fmt.Errorf("connect: %w", ErrInterrupted)
}

// PollLiveness reports whether the current link is alive. A dead link is
// discarded and the manager returns to StateDisconnected.
func (m *Manager) PollLiveness() bool {
	m.mu.Lock()
	link := m.link
	state := m.state
	m.mu.Unlock()

	if link == nil {
		if state != StateDisconnected {
			m.transition(StateDisconnected, "no link")
		}
		return false
	}
	if state != StateConnected {
		return false
	}
	if link.Alive() {
		return true
	}

	m.logger.Info("link lost")
	m.discard("liveness check failed")
	return false
}

// Send transmits msg on the current link. When not connected it returns
// ErrNotConnected and does nothing. A send failure discards the link.
func (m *Manager) Send(msg *schema.Message) error {
	m.mu.Lock()
	link := m.link
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || link == nil {
		return ErrNotConnected
	}

	if err := link.Send(msg); err != nil {
		m.logger.Info("send failed", "msg", msg.Name(), "error", err)
		m.discard("send failed")
		return fmt.Errorf("send %s: %w", msg.Name(), err)
	}
	return nil
}

// Disconnect drops the current link, if any.
func (m *Manager) Disconnect() {
	m.discard("disconnect requested")
}

func (m *Manager) requestSync(link Link) error {
	req, err := m.config.Messages.Create(SyncRequestMessage)
	if err != nil {
		return err
	}
	if _, err := req.SetFromMap(map[string]any{
		"target_system":    m.config.SyncTarget.System,
		"target_component": m.config.SyncTarget.Component,
	}); err != nil {
		return err
	}
	return link.Send(req)
}

// discard cancels the subscription, closes the link and moves to
// StateDisconnected.
func (m *Manager) discard(reason string) {
	m.mu.Lock()
	link, sub := m.link, m.sub
	if link == nil {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.sub = nil
	m.connectedSince = time.Time{}
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		m.logSubscription("CANCELLED", link.ID())
	}
	_ = link.Close()

	m.transition(StateDisconnected, reason)
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	m.lastErr = err
	if m.backoff != nil {
		m.nextAttempt = m.config.Now().Add(m.backoff.Next())
	}
}

func (m *Manager) transition(to State, reason string) {
	m.transitionFor(nil, to, reason)
}

// transitionFor changes state only while link is the current link. A nil
// link changes state unconditionally. It reports whether the state is to.
func (m *Manager) transitionFor(link Link, to State, reason string) bool {
	m.mu.Lock()
	if link != nil && m.link != link {
		m.mu.Unlock()
		return false
	}
	from := m.state
	if from == to {
		m.mu.Unlock()
		return true
	}
	m.state = to
	listeners := append([]func(from, to State){}, m.listeners...)
	m.mu.Unlock()

	m.logger.Debug("connection state changed", "from", from, "to", to, "reason", reason)
	m.plog.Log(log.Event{
		Timestamp: m.config.Now(),
		Layer:     log.LayerLifecycle,
		Category:  log.CategoryState,
		LocalRole: log.RoleDevice,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})

	for _, fn := range listeners {
		fn(from, to)
	}
	return true
}

func (m *Manager) logSubscription(state, linkID string) {
	m.plog.Log(log.Event{
		Timestamp:    m.config.Now(),
		ConnectionID: linkID,
		Layer:        log.LayerLifecycle,
		Category:     log.CategoryState,
		LocalRole:    log.RoleDevice,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			NewState: state,
		},
	})
}
