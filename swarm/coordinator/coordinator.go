package coordinator

import (
	"clocksync/clock"
	"clocksync/config"
	"clocksync/datamodel/peer"
	"clocksync/helper/timer"
	"clocksync/net/dgram"
	"clocksync/protocol"
	"clocksync/telemetry"
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// SnapshotListener is called after every broadcast cycle with the peers that
// were sent the snapshot. It runs on the broadcast goroutine.
type SnapshotListener func(live []Member)

type Option func(*Coordinator)

// WithClock replaces the system clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithPeerIndex records every state update in idx.
func WithPeerIndex(idx peer.PeerIndex) Option {
	return func(co *Coordinator) {
		co.index = idx
	}
}

func WithSnapshotListener(l SnapshotListener) Option {
	return func(co *Coordinator) {
		co.AddSnapshotListener(l)
	}
}

// indexQueueSize bounds the state updates waiting for the peer index.
const indexQueueSize = 256

type indexUpdate struct {
	address string
	rec     peer.Record
	at      time.Time
}

type Coordinator struct {
	// Instance ID, changes on every start
	ID uuid.UUID

	Registry *Registry

	conn     net.PacketConn
	clock    clock.Clock
	window   time.Duration
	interval time.Duration

	index     peer.PeerIndex
	indexQ    chan indexUpdate
	listeners []SnapshotListener
}

func New(cfg *config.Config, conn net.PacketConn, opts ...Option) *Coordinator {
	c := &Coordinator{
		ID:       uuid.New(),
		conn:     conn,
		clock:    clock.System{},
		window:   cfg.Coordinator.LivenessWindow.Std(),
		interval: cfg.Coordinator.BroadcastInterval.Std(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Registry = NewRegistry(c.clock)
	if c.index != nil {
		c.indexQ = make(chan indexUpdate, indexQueueSize)
	}

	log.Infof("Coordinator %s on %s, liveness window %v", c.ID, conn.LocalAddr(), c.window)

	return c
}

// AddSnapshotListener must be called before Run.
func (c *Coordinator) AddSnapshotListener(l SnapshotListener) {
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// HandleDatagram processes one datagram received from a peer. It never fails:
// bad input is counted, logged where appropriate and dropped.
func (c *Coordinator) HandleDatagram(from net.Addr, b []byte) {
	msg, err := protocol.ParseFromPeer(b)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrForeign):
			c.count("foreign")
		case errors.Is(err, protocol.ErrUnknownType):
			c.count("unknown")
			log.Debugf("Ignoring datagram from %s: %v", from, err)
		default:
			c.count("malformed")
			log.Warnf("Dropping datagram from %s: %v", from, err)
		}
		return
	}
	c.count(msg.Type().String())

	switch m := msg.(type) {
	case *protocol.Heartbeat:
		if !c.Registry.Touch(from) {
			log.Debugf("Heartbeat from unknown peer %s", from)
		}

	case *protocol.TimeProbe:
		// Stamp as late as possible, right before the reply goes out
		c.send(from, protocol.EncodeTimeReply(m.Sent, c.clock.Now()))

	case *protocol.StateUpdate:
		log.Infof("%s: latency %.1fms, offset %.1fms", m.Name, m.Latency.Milliseconds(), m.Offset.Milliseconds())
		if c.Registry.Upsert(from, m.Record) {
			log.Infof("New peer %q at %s", m.Name, from)
		}
		c.recordPeer(from, m.Record)
	}
}

func (c *Coordinator) count(kind string) {
	telemetry.DatagramsTotal.WithLabelValues(telemetry.RoleCoordinator, kind).Inc()
}

func (c *Coordinator) send(to net.Addr, b []byte) bool {
	if _, err := c.conn.WriteTo(b, to); err != nil {
		telemetry.SendErrorsTotal.WithLabelValues(telemetry.RoleCoordinator).Inc()
		log.Errorf("Failed to send to %s: %v", to, err)
		return false
	}
	return true
}

// recordPeer queues a state update for the peer index. The receive loop
// never waits on the index: when the queue is full the update is dropped.
func (c *Coordinator) recordPeer(from net.Addr, rec peer.Record) {
	if c.indexQ == nil {
		return
	}

	select {
	case c.indexQ <- indexUpdate{address: from.String(), rec: rec, at: time.Now()}:
	default:
		telemetry.IndexDroppedTotal.Inc()
		log.Debugf("Peer index queue full, dropping update from %s", from)
	}
}

// writeIndex drains the peer index queue until ctx is cancelled. Failures only
// affect the informational index and are logged.
func (c *Coordinator) writeIndex(ctx context.Context) error {
	if c.indexQ == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-c.indexQ:
			if _, err := c.index.Observe(u.address, u.rec, u.at); err != nil {
				log.Errorf("Failed to update peer index for %s: %v", u.address, err)
			}
		}
	}
}

// Broadcast runs one cycle: evict silent peers, then send every survivor the
// snapshot followed by a heartbeat. A failed send skips that destination only.
func (c *Coordinator) Broadcast() {
	evicted, live := c.Registry.Sweep(c.window)
	for _, m := range evicted {
		log.Infof("Evicting %q at %s, silent for %v", m.Name, m.Address, (c.clock.Now() - m.LastSeen).Duration())
	}
	telemetry.EvictionsTotal.Add(float64(len(evicted)))
	telemetry.Peers.Set(float64(len(live)))

	if len(live) > 0 {
		records := make([]peer.Record, len(live))
		for i := range live {
			records[i] = live[i].Record
		}
		snapshot := protocol.EncodeSnapshot(records)

		for _, m := range live {
			if !c.send(m.Addr, snapshot) {
				continue
			}
			c.send(m.Addr, protocol.EncodeHeartbeat())
		}
	}
	telemetry.BroadcastsTotal.Inc()

	for _, l := range c.listeners {
		l(live)
	}
}

// This is run via the RunWithTicker() helper
func (c *Coordinator) broadcast(ctx context.Context) error {
	c.Broadcast()
	return nil
}

// Run serves the socket and broadcasts until ctx is cancelled. The socket is
// closed on return.
func (c *Coordinator) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return dgram.Serve(cctx, c.conn, c.HandleDatagram)
	})

	wg.Go(func() error {
		return c.writeIndex(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: c.interval,
		}
		err := timer.RunWithTicker(cctx, interval, c.broadcast)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return wg.Wait()
}
