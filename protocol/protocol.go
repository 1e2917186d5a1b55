// Package protocol implements the clock sync wire format.
//
// Every datagram starts with the 3-byte tag "CST" and a little-endian int32
// message type. Numbers are fixed-width little-endian, strings carry a uvarint
// (7-bit groups) byte length followed by UTF-8 bytes. Trailing bytes after a
// complete message are ignored.
package protocol

import (
	"clocksync/clock"
	"clocksync/datamodel/peer"
	"errors"
)

type Type int32

const (
	TypeHeartbeat Type = 0 // Liveness, no payload
	TypeTime      Type = 1 // Time probe (peer) and its reply (coordinator)
	TypeState     Type = 2 // State update (peer) and registry snapshot (coordinator)
)

func (t Type) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeTime:
		return "time"
	case TypeState:
		return "state"
	}
	return "unknown"
}

// Port is the well-known coordinator port.
const Port = 2076

const (
	tagLen    = 3
	headerLen = tagLen + 4

	// name length byte + offset + latency + epoch + universe time + rate
	minRecordLen = 1 + 8 + 8 + 8 + 8 + 4
)

var tag = [tagLen]byte{'C', 'S', 'T'}

var (
	// ErrForeign marks a datagram that does not belong to this protocol.
	// It is expected traffic and should not be reported.
	ErrForeign = errors.New("not a clock sync datagram")

	// ErrMalformed marks a datagram with our tag whose body can't be decoded.
	ErrMalformed = errors.New("malformed datagram")

	// ErrUnknownType marks a well-formed header with a type this side doesn't handle.
	ErrUnknownType = errors.New("unknown message type")
)

// Message is implemented by every decoded message.
type Message interface {
	Type() Type
}

// Heartbeat is sent by peers to refresh their registry entry and by the
// coordinator after every snapshot as a liveness signal.
type Heartbeat struct{}

// TimeProbe is the peer's request carrying its local send time.
type TimeProbe struct {
	Sent clock.Ticks
}

// TimeReply echoes a probe's send time and adds the coordinator's clock.
type TimeReply struct {
	Sent        clock.Ticks
	Coordinator clock.Ticks
}

// StateUpdate is a peer declaring its current state to the coordinator.
type StateUpdate struct {
	peer.Record
}

// Snapshot is the coordinator's full registry as broadcast to every peer.
type Snapshot struct {
	Records []peer.Record
}

func (*Heartbeat) Type() Type   { return TypeHeartbeat }
func (*TimeProbe) Type() Type   { return TypeTime }
func (*TimeReply) Type() Type   { return TypeTime }
func (*StateUpdate) Type() Type { return TypeState }
func (*Snapshot) Type() Type    { return TypeState }
