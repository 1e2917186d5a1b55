package peer

import (
	"clocksync/clock"
	"clocksync/datamodel/peer"
)

// Extrapolate projects a remote peer's simulation time to serverNow, a time in
// the coordinator's clock domain.
func Extrapolate(rec peer.Record, serverNow clock.Ticks) float64 {
	elapsed := (serverNow - rec.Epoch).Seconds()
	return rec.UniverseTime + elapsed*float64(rec.Rate)
}

// Drift is how far the local simulation is ahead (positive) or behind
// (negative) of the remote peer, in simulation seconds.
func Drift(localSim float64, rec peer.Record, serverNow clock.Ticks) float64 {
	return localSim - Extrapolate(rec, serverNow)
}

// DriftReport is one line of the periodic comparison against a remote peer.
type DriftReport struct {
	Name      string      `json:"name"`
	Predicted float64     `json:"predicted"` // Remote simulation time now
	Drift     float64     `json:"drift"`     // Seconds, local minus predicted
	Latency   clock.Ticks `json:"latency"`   // As reported by the remote peer
	Rate      float32     `json:"rate"`
}
