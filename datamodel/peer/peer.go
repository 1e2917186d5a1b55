package peer

import (
	"clocksync/clock"
	"errors"
	"time"
)

// ErrNotFound is returned by a PeerIndex for an address it has never recorded.
var ErrNotFound = errors.New("peer not found")

// DefaultRate is the playback multiplier assumed until a peer says otherwise.
const DefaultRate float32 = 1.0

// Record is the peer-declared part of a peer's state. It travels verbatim in
// State Update and Snapshot messages; the coordinator never transforms it.
type Record struct {
	Name         string      `cbor:"1,keyasint,omitempty" json:"name"`          // Display label, untrusted
	Offset       clock.Ticks `cbor:"2,keyasint,omitempty" json:"offset"`        // local clock + Offset = coordinator clock
	Latency      clock.Ticks `cbor:"3,keyasint,omitempty" json:"latency"`       // Round trip of the last probe
	Epoch        clock.Ticks `cbor:"4,keyasint,omitempty" json:"epoch"`         // Coordinator-domain time at which UniverseTime was valid
	UniverseTime float64     `cbor:"5,keyasint,omitempty" json:"universe_time"` // Simulation time at Epoch
	Rate         float32     `cbor:"6,keyasint,omitempty" json:"rate"`          // Simulation seconds per real second
}

// State is the coordinator's view of one peer.
type State struct {
	Address  string      `json:"address"`   // Unique key, the peer's UDP source address
	LastSeen clock.Ticks `json:"last_seen"` // Coordinator-local time of the latest datagram
	Record
}

// Metadata is what the coordinator remembers about a peer across restarts.
type Metadata struct {
	Address   string    `cbor:"1,keyasint,omitempty"` // Peer UDP address
	Record    Record    `cbor:"2,keyasint,omitempty"` // Last declared state
	FirstSeen time.Time `cbor:"3,keyasint,omitempty"` // First state update we received
	LastSeen  time.Time `cbor:"4,keyasint,omitempty"` // Last time we heard from this peer
	Updates   uint64    `cbor:"5,keyasint,omitempty"` // Number of state updates received
}

// PeerIndex defines the interface for recording peers the coordinator has seen.
// It is informational only: membership is decided by the in-memory registry.
type PeerIndex interface {
	// Get retrieves the metadata for a peer, given its address.
	// It returns ErrNotFound if the address is unknown.
	Get(address string) (*Metadata, error)

	// Observe folds one state update received at the given time into the
	// peer's history and returns the stored result.
	Observe(address string, rec Record, at time.Time) (*Metadata, error)

	// Put stores or updates a peer's metadata.
	Put(*Metadata) (*Metadata, error)

	// Enumerate returns the metadata of every recorded peer.
	Enumerate() ([]*Metadata, error)

	Close() error
}
