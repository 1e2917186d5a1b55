// Package clock defines the tick unit used on the wire and the clock sources
// the coordinator and peers read it from.
package clock

import (
	"sync"
	"time"
)

// Ticks counts 100ns intervals since 0001-01-01T00:00:00Z. This is the unit
// for every timestamp, offset and latency carried by the protocol.
type Ticks int64

const (
	TicksPerMillisecond Ticks = 10_000
	TicksPerSecond      Ticks = 10_000_000

	// Ticks between 0001-01-01 and the Unix epoch
	unixEpochTicks Ticks = 621_355_968_000_000_000
)

// FromTime converts a wall clock time to ticks.
func FromTime(t time.Time) Ticks {
	return Ticks(t.UnixNano()/100) + unixEpochTicks
}

// FromDuration converts a duration to ticks, truncating below 100ns.
func FromDuration(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// Time converts ticks back to a UTC wall clock time.
func (t Ticks) Time() time.Time {
	return time.Unix(0, int64(t-unixEpochTicks)*100).UTC()
}

// Duration interprets t as a span rather than an instant.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * 100
}

// Seconds returns the span in (fractional) seconds.
func (t Ticks) Seconds() float64 {
	return float64(t) / float64(TicksPerSecond)
}

// Milliseconds returns the span in (fractional) milliseconds.
func (t Ticks) Milliseconds() float64 {
	return float64(t) / float64(TicksPerMillisecond)
}

// Clock is a source of the current time in ticks.
type Clock interface {
	Now() Ticks
}

// System reads the host's UTC wall clock.
type System struct{}

func (System) Now() Ticks {
	return FromTime(time.Now())
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now Ticks
}

func NewManual(start Ticks) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() Ticks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t Ticks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func (m *Manual) Advance(d time.Duration) Ticks {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += FromDuration(d)
	return m.now
}
