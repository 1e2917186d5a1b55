package peer

import (
	"clocksync/clock"
	"errors"
	"sync/atomic"
)

var (
	// ErrUnexpectedReply is returned for a reply that does not echo the
	// outstanding probe: late, reordered or duplicated.
	ErrUnexpectedReply = errors.New("reply does not match the outstanding probe")
	// ErrNegativeRoundTrip means the local clock stepped backwards while the
	// probe was in flight.
	ErrNegativeRoundTrip = errors.New("negative round trip")
)

// Estimate is the result of one completed probe round trip.
type Estimate struct {
	Offset  clock.Ticks // local clock + Offset = coordinator clock
	Latency clock.Ticks // Round trip, not one-way
	At      clock.Ticks // Local time the reply arrived, zero before the first reply
}

// Estimator holds the latest clock estimate. Only the reply to the most
// recent probe is accepted, and only once; a lost reply leaves the previous
// estimate in place.
type Estimator struct {
	current atomic.Pointer[Estimate]
	pending atomic.Pointer[clock.Ticks]
}

// Estimate returns the latest estimate, or the zero estimate before any reply.
func (e *Estimator) Estimate() Estimate {
	if p := e.current.Load(); p != nil {
		return *p
	}
	return Estimate{}
}

// Begin records t0 as the send time of the outstanding probe. Any earlier
// probe is abandoned.
func (e *Estimator) Begin(t0 clock.Ticks) {
	e.pending.Store(&t0)
}

// Complete folds in a reply: t0 is the echoed probe send time, tc the
// coordinator's clock and t1 the local receive time.
func (e *Estimator) Complete(t0, tc, t1 clock.Ticks) (Estimate, error) {
	p := e.pending.Load()
	if p == nil || *p != t0 || !e.pending.CompareAndSwap(p, nil) {
		return e.Estimate(), ErrUnexpectedReply
	}

	latency := t1 - t0
	if latency < 0 {
		return e.Estimate(), ErrNegativeRoundTrip
	}

	est := &Estimate{
		Latency: latency,
		Offset:  tc - (t0 + latency/2),
		At:      t1,
	}
	e.current.Store(est)
	return *est, nil
}
