package peer

import (
	"clocksync/clock"
	"clocksync/config"
	"clocksync/datamodel/peer"
	"clocksync/net/dgram"
	"clocksync/protocol"
	"clocksync/swarm/coordinator"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	name   string
	sim    float64
	active atomic.Bool
}

func newFakeHost(name string, sim float64) *fakeHost {
	h := &fakeHost{name: name, sim: sim}
	h.active.Store(true)
	return h
}

func (h *fakeHost) DisplayName() string     { return h.name }
func (h *fakeHost) SimulationTime() float64 { return h.sim }
func (h *fakeHost) Active() bool            { return h.active.Load() }

// dialLoopback returns a listening "coordinator" socket and a peer socket
// connected to it.
func dialLoopback(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	coord, err := dgram.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { coord.Close() })

	conn, err := net.DialUDP("udp4", nil, coord.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return coord, conn
}

// captureLogs records every entry of the standard logger for the rest of the test.
func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	hook := logtest.NewGlobal()
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	})
	return hook
}

// warnings returns the entries at Warn level or above.
func warnings(hook *logtest.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func readFromPeer(t *testing.T, conn *net.UDPConn) protocol.Message {
	t.Helper()
	buf := make([]byte, dgram.MaxDatagramSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	msg, err := protocol.ParseFromPeer(buf[:n])
	require.NoError(t, err)
	return msg
}

func TestSyncOnceSendsProbeThenState(t *testing.T) {
	coord, conn := dialLoopback(t)
	clk := clock.NewManual(clock.FromTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	host := newFakeHost("Jool Express", 4242.5)

	p := New(config.NewEmptyConfig(""), host, ConstantRate(3), []Conn{conn}, WithClock(clk))
	p.Estimator.Begin(clk.Now() - 400)
	_, err := p.Estimator.Complete(clk.Now()-400, clk.Now()+7000, clk.Now())
	require.NoError(t, err)

	p.SyncOnce()

	probe, ok := readFromPeer(t, coord).(*protocol.TimeProbe)
	require.True(t, ok)
	assert.Equal(t, clk.Now(), probe.Sent)

	// The reply to this probe is the one that will be accepted
	_, err = p.Estimator.Complete(probe.Sent, probe.Sent+7000, probe.Sent+10)
	require.NoError(t, err)

	state, ok := readFromPeer(t, coord).(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Equal(t, peer.Record{
		Name:         "Jool Express",
		Offset:       7200,
		Latency:      400,
		Epoch:        clk.Now() + 7200,
		UniverseTime: 4242.5,
		Rate:         3,
	}, state.Record)
}

func TestSyncOnceInactive(t *testing.T) {
	coord, conn := dialLoopback(t)
	host := newFakeHost("idle", 0)
	host.active.Store(false)

	p := New(config.NewEmptyConfig(""), host, nil, []Conn{conn})
	p.SyncOnce()

	require.NoError(t, coord.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := coord.ReadFrom(make([]byte, 64))
	require.Error(t, err)
}

func TestHandleDatagram(t *testing.T) {
	hook := captureLogs(t)
	clk := clock.NewManual(1_000_000)
	p := New(config.NewEmptyConfig(""), newFakeHost("me", 0), nil, nil, WithClock(clk))
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2076}

	assert.Zero(t, p.LastHeard())
	assert.False(t, p.Status().Synced)

	// Foreign traffic changes nothing and is not logged
	p.HandleDatagram(from, []byte("hello"))
	p.HandleDatagram(from, []byte{'X', 'Y', 'Z', 0, 0, 0, 0})
	assert.Zero(t, p.LastHeard())
	assert.Empty(t, warnings(hook))

	// Unknown type from the coordinator: no state change, no warning
	p.HandleDatagram(from, []byte{'C', 'S', 'T', 99, 0, 0, 0})
	assert.Zero(t, p.LastHeard())
	assert.Empty(t, warnings(hook))

	t0 := clk.Now() - 100
	p.Estimator.Begin(t0)
	p.HandleDatagram(from, protocol.EncodeTimeReply(t0, clk.Now()+1000))
	est := p.Estimator.Estimate()
	assert.Equal(t, clock.Ticks(100), est.Latency)
	assert.Equal(t, clock.Ticks(1050), est.Offset)
	assert.Equal(t, clk.Now(), p.LastHeard())
	assert.True(t, p.Status().Synced)

	// A late duplicate keeps the estimate
	clk.Advance(400 * time.Millisecond)
	p.HandleDatagram(from, protocol.EncodeTimeReply(t0, clk.Now()+1000))
	assert.Equal(t, est, p.Estimator.Estimate())
	assert.Empty(t, warnings(hook))

	clk.Advance(time.Second)
	p.HandleDatagram(from, protocol.EncodeSnapshot([]peer.Record{{Name: "Val"}, {Name: "Bob"}}))
	assert.Equal(t, 2, p.Table.Len())
	assert.Equal(t, clk.Now(), p.LastHeard())

	// Malformed snapshot leaves the table alone and is logged once
	p.HandleDatagram(from, []byte{'C', 'S', 'T', 2, 0, 0, 0, 9, 0, 0, 0})
	assert.Equal(t, 2, p.Table.Len())
	require.Len(t, warnings(hook), 1)
	assert.Equal(t, logrus.WarnLevel, warnings(hook)[0].Level)
}

func TestStaleReplyKeepsEstimate(t *testing.T) {
	const ms = clock.TicksPerMillisecond
	coord, conn := dialLoopback(t)
	clk := clock.NewManual(1_000_000 * ms)
	p := New(config.NewEmptyConfig(""), newFakeHost("me", 0), nil, []Conn{conn}, WithClock(clk))
	from := coord.LocalAddr()

	p.SyncOnce()
	first := readFromPeer(t, coord).(*protocol.TimeProbe)
	readFromPeer(t, coord)

	clk.Advance(time.Second)
	p.SyncOnce()
	second := readFromPeer(t, coord).(*protocol.TimeProbe)
	readFromPeer(t, coord)

	// Reply to the second probe: 20ms round trip, clocks agree
	clk.Advance(20 * time.Millisecond)
	p.HandleDatagram(from, protocol.EncodeTimeReply(second.Sent, second.Sent+10*ms))
	fresh := p.Estimator.Estimate()
	assert.Equal(t, 20*ms, fresh.Latency)
	assert.Equal(t, clock.Ticks(0), fresh.Offset)

	// Reordered reply to the first probe
	clk.Advance(5 * time.Millisecond)
	p.HandleDatagram(from, protocol.EncodeTimeReply(first.Sent, first.Sent+10*ms))
	assert.Equal(t, fresh, p.Estimator.Estimate())
}

func TestSendFailureNamesCoordinator(t *testing.T) {
	hook := captureLogs(t)
	coord, conn := dialLoopback(t)
	require.NoError(t, conn.Close())

	p := New(config.NewEmptyConfig(""), newFakeHost("me", 0), nil, []Conn{conn})
	p.SyncOnce()

	errs := warnings(hook)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, coord.LocalAddr().String())
}

func TestReport(t *testing.T) {
	clk := clock.NewManual(2000 * clock.TicksPerSecond)
	host := newFakeHost("me", 61.5)
	p := New(config.NewEmptyConfig(""), host, nil, nil, WithClock(clk))

	// Coordinator is exactly 1000s behind us
	p.Estimator.Begin(clk.Now())
	_, err := p.Estimator.Complete(clk.Now(), clk.Now()-1000*clock.TicksPerSecond, clk.Now())
	require.NoError(t, err)
	clk.Advance(5 * time.Second)

	p.Table.Replace([]peer.Record{
		{Name: "Alice", Epoch: 1000 * clock.TicksPerSecond, UniverseTime: 50, Rate: 2, Latency: 30 * clock.TicksPerMillisecond},
		{Name: "Paused", Epoch: 1000 * clock.TicksPerSecond, UniverseTime: 61.5, Rate: 0},
	})

	reports := p.Report()
	require.Len(t, reports, 2)

	assert.Equal(t, "Alice", reports[0].Name)
	assert.InDelta(t, 60.0, reports[0].Predicted, 1e-9)
	assert.InDelta(t, 1.5, reports[0].Drift, 1e-9)
	assert.Equal(t, 30*clock.TicksPerMillisecond, reports[0].Latency)

	assert.Equal(t, "Paused", reports[1].Name)
	assert.InDelta(t, 0.0, reports[1].Drift, 1e-9)

	// Reporting never touches the table
	rec, _ := p.Table.Get("Alice")
	assert.Equal(t, 50.0, rec.UniverseTime)
}

func TestPeerAgainstCoordinator(t *testing.T) {
	cfg := config.NewEmptyConfig("")
	cfg.Coordinator.BroadcastInterval = config.Duration(20 * time.Millisecond)
	cfg.Coordinator.LivenessWindow = config.Duration(time.Second)
	cfg.Peer.SyncInterval = config.Duration(20 * time.Millisecond)
	cfg.Peer.SyncJitter = config.Duration(5 * time.Millisecond)
	cfg.Peer.ExtrapolateInterval = config.Duration(20 * time.Millisecond)

	cconn, err := dgram.Listen("127.0.0.1:0")
	require.NoError(t, err)
	co := coordinator.New(cfg, cconn)

	pconn, err := net.DialUDP("udp4", nil, cconn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	var mu sync.Mutex
	var last []DriftReport
	p := New(cfg, newFakeHost("Alice", 100), ConstantRate(1), []Conn{pconn}, WithDriftListener(func(r []DriftReport) {
		mu.Lock()
		defer mu.Unlock()
		last = r
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- co.Run(ctx) }()
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Name == "Alice"
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, p.Status().Synced)
	assert.Equal(t, 1, co.Registry.Len())

	cancel()
	for range 2 {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}
