package vbat_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/connection"
	"github.com/vbat-sim/vbat-go/pkg/log"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/peer"
	"github.com/vbat-sim/vbat-go/pkg/scheduler"
	"github.com/vbat-sim/vbat-go/pkg/schema"
	"github.com/vbat-sim/vbat-go/pkg/telemetry"
	"github.com/vbat-sim/vbat-go/pkg/transport"
)

// device wires the same stack as cmd/vbat-device against endpoint.
type device struct {
	store   *param.Store
	manager *connection.Manager
	sched   *scheduler.Scheduler
}

func newDevice(t *testing.T, set *schema.MessageSet, endpoint string) *device {
	t.Helper()
	return newDeviceWithConfig(t, set, endpoint, nil, scheduler.Config{ConnectTimeout: time.Second})
}

func newDeviceWithConfig(t *testing.T, set *schema.MessageSet, endpoint string, capture log.Logger, sc scheduler.Config) *device {
	t.Helper()

	rt, err := transport.NewRuntime(transport.RuntimeConfig{
		Identity:       transport.Identity{SystemID: 1, ComponentID: 180},
		Messages:       set,
		Endpoint:       endpoint,
		ProtocolLogger: capture,
	})
	require.NoError(t, err)

	store := param.NewStore(nil)
	manager := connection.NewManager(func(ctx context.Context, timeout time.Duration) (connection.Link, error) {
		link, err := rt.AwaitConnection(ctx, timeout)
		if err != nil {
			return nil, err
		}
		return link, nil
	}, connection.ManagerConfig{
		Messages:       set,
		Params:         store,
		ProtocolLogger: capture,
	})
	t.Cleanup(manager.Disconnect)

	enc, err := telemetry.NewEncoder(set)
	require.NoError(t, err)

	cfg := battery.DefaultConfig()
	cfg.LoadCurrentA = 10
	sched := scheduler.New(manager, battery.NewModel(cfg), store, enc, sc)

	return &device{store: store, manager: manager, sched: sched}
}

func TestE2E_DeviceAgainstGroundStation(t *testing.T) {
	set, err := schema.Default()
	require.NoError(t, err)

	gcs, err := peer.New(peer.Config{Address: "127.0.0.1:0", Messages: set})
	require.NoError(t, err)
	require.NoError(t, gcs.Start(context.Background()))
	t.Cleanup(func() { _ = gcs.Stop() })

	dev := newDevice(t, set, gcs.Addr().String())

	// First iteration connects, syncs and publishes.
	it := dev.sched.RunIteration(context.Background())
	require.True(t, it.Connected)
	require.True(t, it.Published)
	assert.Equal(t, connection.StateConnected, dev.manager.State())

	// The full table arrives; the foreign SYS_AUTOSTART is not stored.
	require.Eventually(t, func() bool {
		return dev.store.Len() == len(param.Known())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5000.0, dev.store.Read(param.Capacity))
	_, ok := dev.store.Lookup("SYS_AUTOSTART")
	assert.False(t, ok)

	// The next tick discharges against the synced capacity.
	before := dev.sched.Status().Battery.ConsumedMAh
	it = dev.sched.RunIteration(context.Background())
	assert.InDelta(t, before+10.0/5000.0, it.State.ConsumedMAh, 1e-12)

	// The ground station sees the published status.
	require.Eventually(t, func() bool {
		links := gcs.Links()
		return len(links) == 1 && !links[0].StatusAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 49, gcs.Links()[0].Status.Remaining, "one 10 A tick against 100 mAh")

	// An operator push reaches the store.
	sent, err := gcs.SetParam(param.Capacity, 2200)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Eventually(t, func() bool {
		return dev.store.Read(param.Capacity) == 2200
	}, 2*time.Second, 10*time.Millisecond)
}

func TestE2E_Reconnection(t *testing.T) {
	set, err := schema.Default()
	require.NoError(t, err)

	gcs, err := peer.New(peer.Config{Address: "127.0.0.1:0", Messages: set})
	require.NoError(t, err)
	require.NoError(t, gcs.Start(context.Background()))
	addr := gcs.Addr().String()

	dev := newDevice(t, set, addr)
	require.True(t, dev.sched.RunIteration(context.Background()).Connected)

	require.NoError(t, gcs.Stop())

	// The link dies; liveness polling notices and the device keeps ticking
	// while disconnected.
	require.Eventually(t, func() bool {
		return !dev.manager.PollLiveness()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, connection.StateDisconnected, dev.manager.State())

	// With nobody listening an iteration still waits out the connect
	// timeout instead of spinning.
	start := time.Now()
	it := dev.sched.RunIteration(context.Background())
	elapsed := time.Since(start)
	assert.False(t, it.Connected)
	assert.False(t, it.Published)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)

	// A ground station coming up on the same address inside the connect
	// window is picked up by that same iteration.
	gcs2, err := peer.New(peer.Config{Address: addr, Messages: set})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gcs2.Stop() })

	started := make(chan error, 1)
	time.AfterFunc(300*time.Millisecond, func() {
		started <- gcs2.Start(context.Background())
	})

	it = dev.sched.RunIteration(context.Background())
	require.NoError(t, <-started)
	assert.True(t, it.Connected)
	assert.True(t, it.Published)
	assert.Equal(t, connection.StateConnected, dev.manager.State())
}

func TestE2E_RunLoopPublishesPeriodically(t *testing.T) {
	set, err := schema.Default()
	require.NoError(t, err)

	var mu sync.Mutex
	var received []peer.BatteryStatus
	gcs, err := peer.New(peer.Config{
		Address:  "127.0.0.1:0",
		Messages: set,
		OnStatus: func(_ string, st peer.BatteryStatus) {
			mu.Lock()
			received = append(received, st)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, gcs.Start(context.Background()))
	t.Cleanup(func() { _ = gcs.Stop() })

	dev := newDeviceWithConfig(t, set, gcs.Addr().String(), nil, scheduler.Config{
		ConnectTimeout: time.Second,
		PublishPeriod:  50 * time.Millisecond,
		TickInterval:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	// Consumed charge never decreases between reports.
	for i := 1; i < len(received); i++ {
		assert.GreaterOrEqual(t, received[i].ConsumedMAh, received[i-1].ConsumedMAh)
	}
	assert.InDelta(t, 10.0, received[len(received)-1].CurrentA, 1e-9)
}

func TestE2E_ProtocolCapture(t *testing.T) {
	set, err := schema.Default()
	require.NoError(t, err)

	gcs, err := peer.New(peer.Config{Address: "127.0.0.1:0", Messages: set})
	require.NoError(t, err)
	require.NoError(t, gcs.Start(context.Background()))
	t.Cleanup(func() { _ = gcs.Stop() })

	path := filepath.Join(t.TempDir(), "device.vlog")
	capture, err := log.NewFileLogger(path)
	require.NoError(t, err)

	dev := newDeviceWithConfig(t, set, gcs.Addr().String(), capture, scheduler.Config{ConnectTimeout: time.Second})
	require.True(t, dev.sched.RunIteration(context.Background()).Published)

	require.Eventually(t, func() bool {
		return dev.store.Len() == len(param.Known())
	}, 2*time.Second, 10*time.Millisecond)

	dev.manager.Disconnect()
	require.NoError(t, capture.Close())

	// The published status is in the capture as an outbound wire message.
	out := log.DirectionOut
	r, err := log.NewFilteredReader(path, log.Filter{Direction: &out, MessageName: "BATTERY_STATUS"})
	require.NoError(t, err)
	defer r.Close()
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, log.LayerWire, ev.Layer)
	assert.Equal(t, uint32(147), ev.Message.MessageID)

	// The lifecycle walks through every state and back.
	lifecycle := log.LayerLifecycle
	lr, err := log.NewFilteredReader(path, log.Filter{Layer: &lifecycle})
	require.NoError(t, err)
	defer lr.Close()

	var states []string
	for {
		ev, err := lr.Next()
		if err != nil {
			break
		}
		if ev.StateChange != nil && ev.StateChange.Entity == log.StateEntityConnection {
			states = append(states, ev.StateChange.NewState)
		}
	}
	assert.Equal(t, []string{
		connection.StateAwaitingHandshake.String(),
		connection.StateSyncingParameters.String(),
		connection.StateConnected.String(),
		connection.StateDisconnected.String(),
	}, states)
}
