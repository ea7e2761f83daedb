package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

type fakeLink struct {
	id     string
	alive  atomic.Bool
	closed atomic.Bool
	msgs   chan *schema.Message

	mu      sync.Mutex
	sent    []*schema.Message
	sendErr error
}

func newFakeLink(id string) *fakeLink {
	l := &fakeLink{id: id, msgs: make(chan *schema.Message, 16)}
	l.alive.Store(true)
	return l
}

func (l *fakeLink) ID() string                       { return l.id }
func (l *fakeLink) Alive() bool                      { return l.alive.Load() }
func (l *fakeLink) Messages() <-chan *schema.Message { return l.msgs }

func (l *fakeLink) Send(msg *schema.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, msg)
	return nil
}

func (l *fakeLink) Close() error {
	l.closed.Store(true)
	l.alive.Store(false)
	return nil
}

func (l *fakeLink) setSendErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

func (l *fakeLink) sentNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.sent))
	for i, m := range l.sent {
		names[i] = m.Name()
	}
	return names
}

func (l *fakeLink) lastSent() *schema.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return nil
	}
	return l.sent[len(l.sent)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func messageSet(t *testing.T) *schema.MessageSet {
	t.Helper()
	set, err := schema.Default()
	require.NoError(t, err)
	return set
}

func paramValue(t *testing.T, set *schema.MessageSet, id string, value float64) *schema.Message {
	t.Helper()
	msg, err := set.Create(ParamValueMessage)
	require.NoError(t, err)
	_, err = msg.SetFromMap(map[string]any{
		"param_id":    id,
		"param_value": value,
		"param_type":  9,
		"param_count": 1,
		"param_index": 0,
	})
	require.NoError(t, err)
	return msg
}

// connectTo returns a ConnectFunc handing out link and counting calls.
func connectTo(link Link, calls *atomic.Int32) ConnectFunc {
	return func(ctx context.Context, timeout time.Duration) (Link, error) {
		calls.Add(1)
		return link, nil
	}
}

func TestManagerConnect(t *testing.T) {
	set := messageSet(t)

	t.Run("SendsExactlyOneSyncRequest", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{
			Messages: set,
			Params:   param.NewStore(nil),
		})

		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		assert.Equal(t, StateConnected, m.State())
		assert.True(t, m.IsConnected())
		assert.Equal(t, []string{SyncRequestMessage}, link.sentNames())
		assert.EqualValues(t, 1, calls.Load())

		req := link.lastSent()
		sys, err := req.Int("target_system")
		require.NoError(t, err)
		comp, err := req.Int("target_component")
		require.NoError(t, err)
		assert.EqualValues(t, DefaultSyncTarget.System, sys)
		assert.EqualValues(t, DefaultSyncTarget.Component, comp)

		info := m.Info()
		assert.Equal(t, "link-1", info.LinkID)
		assert.Equal(t, 1, info.Attempts)
		assert.False(t, info.ConnectedSince.IsZero())
	})

	t.Run("AlreadyConnected", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))
		err := m.AttemptConnect(context.Background(), time.Second)

		assert.ErrorIs(t, err, ErrAlreadyConnected)
		assert.EqualValues(t, 1, calls.Load())
		assert.Len(t, link.sentNames(), 1)
	})

	t.Run("FailureStaysDisconnected", func(t *testing.T) {
		dialErr := errors.New("connection refused")
		m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
			return nil, dialErr
		}, ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		err := m.AttemptConnect(context.Background(), time.Second)

		assert.ErrorIs(t, err, dialErr)
		assert.Equal(t, StateDisconnected, m.State())
		assert.Nil(t, m.Link())

		info := m.Info()
		assert.Equal(t, 1, info.Failures)
		assert.Equal(t, dialErr.Error(), info.LastError)
	})

	t.Run("NilLinkIsFailure", func(t *testing.T) {
		m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
			return nil, nil
		}, ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		err := m.AttemptConnect(context.Background(), time.Second)

		assert.ErrorIs(t, err, ErrNoLink)
		assert.Equal(t, StateDisconnected, m.State())
	})

	t.Run("TimeoutPassedThrough", func(t *testing.T) {
		var got time.Duration
		m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
			got = timeout
			return nil, errors.New("timeout")
		}, ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		_ = m.AttemptConnect(context.Background(), 0)
		assert.Equal(t, DefaultConnectTimeout, got)

		_ = m.AttemptConnect(context.Background(), 500*time.Millisecond)
		assert.Equal(t, 500*time.Millisecond, got)
	})

	t.Run("SyncRequestFailureDiscardsLink", func(t *testing.T) {
		link := newFakeLink("link-1")
		link.setSendErr(errors.New("broken pipe"))
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		err := m.AttemptConnect(context.Background(), time.Second)

		require.Error(t, err)
		assert.Equal(t, StateDisconnected, m.State())
		assert.True(t, link.closed.Load())
		assert.Nil(t, m.Link())
	})
}

func TestManagerStateCallbacks(t *testing.T) {
	set := messageSet(t)
	link := newFakeLink("link-1")
	var calls atomic.Int32
	m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})

	type change struct{ from, to State }
	var changes []change
	m.OnStateChange(func(from, to State) {
		changes = append(changes, change{from, to})
	})

	require.NoError(t, m.AttemptConnect(context.Background(), time.Second))
	link.alive.Store(false)
	assert.False(t, m.PollLiveness())

	assert.Equal(t, []change{
		{StateDisconnected, StateAwaitingHandshake},
		{StateAwaitingHandshake, StateSyncingParameters},
		{StateSyncingParameters, StateConnected},
		{StateConnected, StateDisconnected},
	}, changes)
}

func TestManagerLiveness(t *testing.T) {
	set := messageSet(t)

	t.Run("AliveLinkStaysConnected", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		assert.True(t, m.PollLiveness())
		assert.Equal(t, StateConnected, m.State())
		assert.False(t, link.closed.Load())
	})

	t.Run("DeadLinkDisconnects", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		link.alive.Store(false)

		assert.False(t, m.PollLiveness())
		assert.Equal(t, StateDisconnected, m.State())
		assert.True(t, link.closed.Load())
		assert.Nil(t, m.Link())
	})

	t.Run("SendAfterLossIsNoop", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		link.alive.Store(false)
		m.PollLiveness()

		msg := paramValue(t, set, param.Capacity, 1)
		err := m.Send(msg)

		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Len(t, link.sentNames(), 1, "only the sync request reached the link")
	})

	t.Run("DisconnectedPollIsFalse", func(t *testing.T) {
		m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
			return nil, errors.New("unreachable")
		}, ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		assert.False(t, m.PollLiveness())
		assert.Equal(t, StateDisconnected, m.State())
	})
}

func TestManagerSend(t *testing.T) {
	set := messageSet(t)

	t.Run("ForwardsToLink", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		require.NoError(t, m.Send(paramValue(t, set, param.Capacity, 1)))
		assert.Equal(t, []string{SyncRequestMessage, ParamValueMessage}, link.sentNames())
	})

	t.Run("NotConnected", func(t *testing.T) {
		m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
			return nil, errors.New("unreachable")
		}, ManagerConfig{Messages: set, Params: param.NewStore(nil)})

		assert.ErrorIs(t, m.Send(paramValue(t, set, param.Capacity, 1)), ErrNotConnected)
	})

	t.Run("FailureDiscardsLink", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		sendErr := errors.New("connection reset")
		link.setSendErr(sendErr)

		err := m.Send(paramValue(t, set, param.Capacity, 1))

		assert.ErrorIs(t, err, sendErr)
		assert.Equal(t, StateDisconnected, m.State())
		assert.True(t, link.closed.Load())
	})

	t.Run("Disconnect", func(t *testing.T) {
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: param.NewStore(nil)})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		m.Disconnect()
		m.Disconnect()

		assert.Equal(t, StateDisconnected, m.State())
		assert.True(t, link.closed.Load())
	})
}

func TestManagerParameterSync(t *testing.T) {
	set := messageSet(t)

	t.Run("CapacityReachesStoreAndModel", func(t *testing.T) {
		store := param.NewStore(nil)
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: store})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		link.msgs <- paramValue(t, set, param.Capacity, 5000)

		require.Eventually(t, func() bool {
			_, ok := store.Lookup(param.Capacity)
			return ok
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 5000.0, store.Read(param.Capacity))

		cfg := battery.DefaultConfig()
		cfg.LoadCurrentA = 10
		model := battery.NewModel(cfg)
		s := model.Tick(store)

		assert.InDelta(t, 10.0/5000.0, s.ConsumedMAh, 1e-12)
	})

	t.Run("NonParameterMessagesIgnored", func(t *testing.T) {
		store := param.NewStore(nil)
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: store})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		hb, err := set.Create("HEARTBEAT")
		require.NoError(t, err)
		link.msgs <- hb
		link.msgs <- paramValue(t, set, param.NumCells, 4)

		require.Eventually(t, func() bool {
			return store.Len() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 4.0, store.Read(param.NumCells))
	})

	t.Run("UnknownParameterIgnored", func(t *testing.T) {
		store := param.NewStore(nil)
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: store})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		link.msgs <- paramValue(t, set, "SYS_AUTOSTART", 1)
		link.msgs <- paramValue(t, set, param.Capacity, 2200)

		require.Eventually(t, func() bool {
			_, ok := store.Lookup(param.Capacity)
			return ok
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("StaleSubscriptionDropped", func(t *testing.T) {
		store := param.NewStore(nil)
		link := newFakeLink("link-1")
		var calls atomic.Int32
		m := NewManager(connectTo(link, &calls), ManagerConfig{Messages: set, Params: store})
		require.NoError(t, m.AttemptConnect(context.Background(), time.Second))

		m.mu.Lock()
		sub := m.sub
		m.mu.Unlock()
		require.NotNil(t, sub)

		m.Disconnect()

		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscription goroutine did not exit")
		}

		assert.False(t, sub.Active())
		assert.False(t, sub.OnParameterMessage(param.Capacity, 5000))
		_, ok := store.Lookup(param.Capacity)
		assert.False(t, ok)
	})
}

func TestManagerBackoff(t *testing.T) {
	set := messageSet(t)
	clock := newFakeClock()

	var calls atomic.Int32
	m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}, ManagerConfig{
		Messages: set,
		Params:   param.NewStore(nil),
		Backoff:  &BackoffConfig{Initial: time.Second, Max: 4 * time.Second},
		Now:      clock.Now,
	})

	require.Error(t, m.AttemptConnect(context.Background(), time.Second))
	assert.EqualValues(t, 1, calls.Load())

	err := m.AttemptConnect(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrBackoff)
	assert.EqualValues(t, 1, calls.Load(), "attempt inside backoff window must not dial")

	clock.Advance(time.Second)
	require.Error(t, m.AttemptConnect(context.Background(), time.Second))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, clock.Now().Add(2*time.Second), m.Info().NextAttempt)

	clock.Advance(time.Second)
	assert.ErrorIs(t, m.AttemptConnect(context.Background(), time.Second), ErrBackoff)
	assert.EqualValues(t, 2, calls.Load())
}

func TestManagerProtocolLog(t *testing.T) {
	set := messageSet(t)
	plog := log.NewMemoryLogger(0)
	link := newFakeLink("link-1")
	var calls atomic.Int32
	m := NewManager(connectTo(link, &calls), ManagerConfig{
		Messages:       set,
		Params:         param.NewStore(nil),
		ProtocolLogger: plog,
	})

	require.NoError(t, m.AttemptConnect(context.Background(), time.Second))
	m.Disconnect()

	var connStates, subStates []string
	for _, e := range plog.Events() {
		require.NotNil(t, e.StateChange)
		assert.Equal(t, log.LayerLifecycle, e.Layer)
		switch e.StateChange.Entity {
		case log.StateEntityConnection:
			connStates = append(connStates, e.StateChange.NewState)
		case log.StateEntitySubscription:
			subStates = append(subStates, e.StateChange.NewState)
		}
	}

	assert.Equal(t, []string{"AWAITING_HANDSHAKE", "SYNCING_PARAMETERS", "CONNECTED", "DISCONNECTED"}, connStates)
	assert.Equal(t, []string{"ACTIVE", "CANCELLED"}, subStates)
}

// blockingLink holds its first Send until release is closed.
type blockingLink struct {
	*fakeLink
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingLink(id string) *blockingLink {
	return &blockingLink{
		fakeLink: newFakeLink(id),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (l *blockingLink) Send(msg *schema.Message) error {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
	return l.fakeLink.Send(msg)
}

func TestManagerDisconnectDuringSync(t *testing.T) {
	set := messageSet(t)
	first := newBlockingLink("link-1")
	second := newFakeLink("link-2")

	var calls atomic.Int32
	m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
		if calls.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}, ManagerConfig{
		Messages: set,
		Params:   param.NewStore(nil),
	})

	done := make(chan error, 1)
	go func() { done <- m.AttemptConnect(context.Background(), time.Second) }()

	select {
	case <-first.entered:
	case <-time.After(time.Second):
		t.Fatal("sync request was not sent")
	}
	m.Disconnect()
	close(first.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("AttemptConnect did not return")
	}

	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
	assert.Nil(t, m.Link())
	assert.True(t, first.closed.Load())
	assert.False(t, m.PollLiveness())

	require.NoError(t, m.AttemptConnect(context.Background(), time.Second))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, Link(second), m.Link())
	assert.EqualValues(t, 2, calls.Load())
}

func TestManagerDisconnectBeforeHandshakeState(t *testing.T) {
	set := messageSet(t)
	link := newFakeLink("link-1")

	m := NewManager(func(ctx context.Context, timeout time.Duration) (Link, error) {
		return link, nil
	}, ManagerConfig{
		Messages: set,
		Params:   param.NewStore(nil),
	})

	// A disconnect issued from a state listener lands between two steps
	// of the attempt.
	var once sync.Once
	m.OnStateChange(func(from, to State) {
		if to == StateAwaitingHandshake {
			once.Do(func() { go m.Disconnect() })
		}
	})

	err := m.AttemptConnect(context.Background(), time.Second)
	if err != nil {
		assert.ErrorIs(t, err, ErrInterrupted)
	}

	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected && m.Link() == nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, link.closed.Load())
}

func TestManagerPollLivenessWithoutLink(t *testing.T) {
	m := NewManager(nil, ManagerConfig{
		Messages: messageSet(t),
		Params:   param.NewStore(nil),
	})
	m.mu.Lock()
	m.state = StateConnected
	m.mu.Unlock()

	assert.False(t, m.PollLiveness())
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
}
