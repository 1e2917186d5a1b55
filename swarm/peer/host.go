package peer

import (
	"clocksync/datamodel/peer"
	"time"
)

// Host is the application whose simulation clock is being compared.
type Host interface {
	// DisplayName is sent to the coordinator as-is.
	DisplayName() string

	// SimulationTime is the current local simulation time in seconds.
	SimulationTime() float64

	// Active gates probing, state pushes and drift reports.
	Active() bool
}

// RateProvider reports how many simulation seconds pass per real second.
type RateProvider interface {
	PlaybackRate() float32
}

// ConstantRate is a RateProvider with a fixed rate.
type ConstantRate float32

func (r ConstantRate) PlaybackRate() float32 {
	return float32(r)
}

// DefaultRate is used when the host has no better idea.
var DefaultRate RateProvider = ConstantRate(peer.DefaultRate)

// WallClockHost is a stand-in host whose simulation time is the wall clock
// seconds elapsed since start, scaled by rate. It is always active.
type WallClockHost struct {
	Name  string
	Rate  RateProvider
	start time.Time
}

func NewWallClockHost(name string, rate RateProvider) *WallClockHost {
	if name == "" {
		name = "Unknown"
	}
	if rate == nil {
		rate = DefaultRate
	}
	return &WallClockHost{
		Name:  name,
		Rate:  rate,
		start: time.Now(),
	}
}

func (h *WallClockHost) DisplayName() string {
	return h.Name
}

func (h *WallClockHost) SimulationTime() float64 {
	return time.Since(h.start).Seconds() * float64(h.Rate.PlaybackRate())
}

func (h *WallClockHost) Active() bool {
	return true
}
