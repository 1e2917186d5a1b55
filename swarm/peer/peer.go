package peer

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
	"math"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// Conn is a socket connected to the coordinator.
type Conn interface {
	net.PacketConn
	Write(b []byte) (int, error)
	RemoteAddr() net.Addr
}

// DriftListener receives every drift report computed while the host is active.
type DriftListener func(reports []DriftReport)

type Option func(*Peer)

func WithClock(c clock.Clock) Option {
	return func(p *Peer) {
		p.clock = c
	}
}

func WithDriftListener(l DriftListener) Option {
	return func(p *Peer) {
		p.AddDriftListener(l)
	}
}

type Peer struct {
	Estimator *Estimator
	Table     *Table

	host  Host
	rate  RateProvider
	conns []Conn
	clock clock.Clock

	syncInterval        time.Duration
	syncJitter          time.Duration
	extrapolateInterval time.Duration

	// Local ticks of the last valid datagram from the coordinator
	lastHeard atomic.Int64

	listeners []DriftListener
}

// Status summarizes the peer for the status endpoint and the TUI.
type Status struct {
	Name      string      `json:"name"`
	Offset    clock.Ticks `json:"offset"`
	Latency   clock.Ticks `json:"latency"`
	Synced    bool        `json:"synced"`
	LastHeard time.Time   `json:"last_heard"`
	Peers     int         `json:"peers"`
}

// New creates a peer talking to the coordinator over conns. Every message is
// sent on each of them.
func New(cfg *config.Config, host Host, rate RateProvider, conns []Conn, opts ...Option) *Peer {
	if rate == nil {
		rate = DefaultRate
	}
	p := &Peer{
		Estimator:           &Estimator{},
		Table:               &Table{},
		host:                host,
		rate:                rate,
		conns:               conns,
		clock:               clock.System{},
		syncInterval:        cfg.Peer.SyncInterval.Std(),
		syncJitter:          cfg.Peer.SyncJitter.Std(),
		extrapolateInterval: cfg.Peer.ExtrapolateInterval.Std(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddDriftListener must be called before Run.
func (p *Peer) AddDriftListener(l DriftListener) {
	p.listeners = append(p.listeners, l)
}

func (p *Peer) count(kind string) {
	telemetry.DatagramsTotal.WithLabelValues(telemetry.RolePeer, kind).Inc()
}

// HandleDatagram processes one datagram from the coordinator.
func (p *Peer) HandleDatagram(from net.Addr, b []byte) {
	msg, err := protocol.ParseFromCoordinator(b)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrForeign):
			p.count("foreign")
		case errors.Is(err, protocol.ErrUnknownType):
			p.count("unknown")
			log.Debugf("Ignoring datagram from %s: %v", from, err)
		default:
			p.count("malformed")
			log.Warnf("Dropping datagram from %s: %v", from, err)
		}
		return
	}
	p.count(msg.Type().String())

	now := p.clock.Now()
	p.lastHeard.Store(int64(now))
	telemetry.CoordinatorLastHeard.Set(float64(now.Time().UnixNano()) / 1e9)

	switch m := msg.(type) {
	case *protocol.TimeReply:
		est, err := p.Estimator.Complete(m.Sent, m.Coordinator, now)
		switch {
		case errors.Is(err, ErrUnexpectedReply):
			log.Debugf("Dropping time reply for probe sent at %d from %s: %v", m.Sent, from, err)
			return
		case err != nil:
			log.Warnf("Dropping time reply (sent %d, received %d): %v", m.Sent, now, err)
			return
		}
		telemetry.ClockOffset.Set(est.Offset.Seconds())
		telemetry.RoundTrip.Set(est.Latency.Seconds())
		log.Debugf("Clock offset %.1fms, round trip %.1fms", est.Offset.Milliseconds(), est.Latency.Milliseconds())

	case *protocol.Snapshot:
		p.Table.Replace(m.Records)
	}
}

func (p *Peer) sendAll(b []byte) {
	for _, c := range p.conns {
		if _, err := c.Write(b); err != nil {
			telemetry.SendErrorsTotal.WithLabelValues(telemetry.RolePeer).Inc()
			log.Errorf("Failed to send to %s: %v", c.RemoteAddr(), err)
		}
	}
}

// SyncOnce sends a time probe followed by the current state. It does nothing
// while the host is inactive.
func (p *Peer) SyncOnce() {
	if !p.host.Active() {
		return
	}

	t0 := p.clock.Now()
	p.Estimator.Begin(t0)
	p.sendAll(protocol.EncodeTimeProbe(t0))

	est := p.Estimator.Estimate()
	rec := peer.Record{
		Name:         p.host.DisplayName(),
		Offset:       est.Offset,
		Latency:      est.Latency,
		Epoch:        p.clock.Now() + est.Offset,
		UniverseTime: p.host.SimulationTime(),
		Rate:         p.rate.PlaybackRate(),
	}
	p.sendAll(protocol.EncodeStateUpdate(rec))
}

// Report compares the local simulation time against every peer in the table.
// The table is only read.
func (p *Peer) Report() []DriftReport {
	records := p.Table.All()
	if len(records) == 0 {
		return nil
	}

	serverNow := p.clock.Now() + p.Estimator.Estimate().Offset
	local := p.host.SimulationTime()

	reports := make([]DriftReport, 0, len(records))
	for _, rec := range records {
		predicted := Extrapolate(rec, serverNow)
		reports = append(reports, DriftReport{
			Name:      rec.Name,
			Predicted: predicted,
			Drift:     local - predicted,
			Latency:   rec.Latency,
			Rate:      rec.Rate,
		})
	}
	return reports
}

// LastHeard is the local time of the last valid datagram from the
// coordinator, zero if nothing arrived yet.
func (p *Peer) LastHeard() clock.Ticks {
	return clock.Ticks(p.lastHeard.Load())
}

func (p *Peer) Status() Status {
	est := p.Estimator.Estimate()
	s := Status{
		Name:    p.host.DisplayName(),
		Offset:  est.Offset,
		Latency: est.Latency,
		Synced:  est.At != 0,
		Peers:   p.Table.Len(),
	}
	if t := p.LastHeard(); t != 0 {
		s.LastHeard = t.Time()
	}
	return s
}

// This is run via the RunWithTicker() helper
func (p *Peer) sync(ctx context.Context) error {
	p.SyncOnce()
	return nil
}

// This is run via the RunWithTicker() helper
func (p *Peer) extrapolate(ctx context.Context) error {
	if !p.host.Active() {
		return nil
	}

	reports := p.Report()

	telemetry.Drift.Reset()
	for _, r := range reports {
		telemetry.Drift.WithLabelValues(r.Name).Set(r.Drift)
		log.Debugf("%s UT: %.0fms, lag: %.0fms", r.Name, math.Round(r.Drift*1000), math.Round(r.Latency.Milliseconds()))
	}

	for _, l := range p.listeners {
		l(reports)
	}
	return nil
}

// Run serves every socket and drives the sync and drift timers until ctx is
// cancelled. The sockets are closed on return.
func (p *Peer) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	for _, c := range p.conns {
		wg.Go(func() error {
			return dgram.Serve(cctx, c, p.HandleDatagram)
		})
	}

	wg.Go(func() error {
		return ignoreCanceled(timer.RunWithTicker(cctx, &timer.Interval{Duration: p.syncInterval, Jitter: p.syncJitter}, p.sync))
	})

	wg.Go(func() error {
		return ignoreCanceled(timer.RunWithTicker(cctx, &timer.Interval{Duration: p.extrapolateInterval}, p.extrapolate))
	})

	return wg.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
