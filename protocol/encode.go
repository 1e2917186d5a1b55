package protocol

import (
	"clocksync/clock"
	"clocksync/datamodel/peer"
	"encoding/binary"
	"math"
)

// encoder writes into a buffer sized exactly for one message. Buffers are
// never shared between messages.
type encoder struct {
	b []byte
}

func newEncoder(t Type, payload int) *encoder {
	e := &encoder{b: make([]byte, 0, headerLen+payload)}
	e.b = append(e.b, tag[:]...)
	e.i32(int32(t))
	return e
}

func (e *encoder) i32(v int32) {
	e.b = binary.LittleEndian.AppendUint32(e.b, uint32(v))
}

func (e *encoder) i64(v int64) {
	e.b = binary.LittleEndian.AppendUint64(e.b, uint64(v))
}

func (e *encoder) f32(v float32) {
	e.b = binary.LittleEndian.AppendUint32(e.b, math.Float32bits(v))
}

func (e *encoder) f64(v float64) {
	e.b = binary.LittleEndian.AppendUint64(e.b, math.Float64bits(v))
}

func (e *encoder) str(s string) {
	e.b = binary.AppendUvarint(e.b, uint64(len(s)))
	e.b = append(e.b, s...)
}

func (e *encoder) record(r *peer.Record) {
	e.str(r.Name)
	e.i64(int64(r.Offset))
	e.i64(int64(r.Latency))
	e.i64(int64(r.Epoch))
	e.f64(r.UniverseTime)
	e.f32(r.Rate)
}

func recordLen(r *peer.Record) int {
	return minRecordLen - 1 + uvarintLen(uint64(len(r.Name))) + len(r.Name)
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Encode serializes m into a freshly allocated datagram.
func Encode(m Message) []byte {
	switch m := m.(type) {
	case *Heartbeat:
		return newEncoder(TypeHeartbeat, 0).b
	case *TimeProbe:
		e := newEncoder(TypeTime, 8)
		e.i64(int64(m.Sent))
		return e.b
	case *TimeReply:
		e := newEncoder(TypeTime, 16)
		e.i64(int64(m.Sent))
		e.i64(int64(m.Coordinator))
		return e.b
	case *StateUpdate:
		e := newEncoder(TypeState, recordLen(&m.Record))
		e.record(&m.Record)
		return e.b
	case *Snapshot:
		size := 4
		for i := range m.Records {
			size += recordLen(&m.Records[i])
		}
		e := newEncoder(TypeState, size)
		e.i32(int32(len(m.Records)))
		for i := range m.Records {
			e.record(&m.Records[i])
		}
		return e.b
	}
	panic("protocol: cannot encode message type")
}

// EncodeHeartbeat returns a bare heartbeat datagram.
func EncodeHeartbeat() []byte {
	return Encode(&Heartbeat{})
}

// EncodeTimeProbe returns a probe stamped with the sender's local time.
func EncodeTimeProbe(sent clock.Ticks) []byte {
	return Encode(&TimeProbe{Sent: sent})
}

// EncodeTimeReply answers a probe.
func EncodeTimeReply(sent, coordinator clock.Ticks) []byte {
	return Encode(&TimeReply{Sent: sent, Coordinator: coordinator})
}

// EncodeStateUpdate returns a peer state declaration.
func EncodeStateUpdate(r peer.Record) []byte {
	return Encode(&StateUpdate{Record: r})
}

// EncodeSnapshot returns a registry snapshot carrying records in order.
func EncodeSnapshot(records []peer.Record) []byte {
	return Encode(&Snapshot{Records: records})
}
