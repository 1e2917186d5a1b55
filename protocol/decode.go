package protocol

import (
	"bytes"
	"clocksync/clock"
	"clocksync/datamodel/peer"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errShort = errors.New("unexpected end of datagram")

// decoder reads fixed-width fields and remembers the first failure, so field
// reads can be chained and checked once.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.b)-d.off < n {
		d.err = errShort
		return nil
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p
}

func (d *decoder) remaining() int {
	return len(d.b) - d.off
}

func (d *decoder) i32() int32 {
	if p := d.take(4); p != nil {
		return int32(binary.LittleEndian.Uint32(p))
	}
	return 0
}

func (d *decoder) i64() int64 {
	if p := d.take(8); p != nil {
		return int64(binary.LittleEndian.Uint64(p))
	}
	return 0
}

func (d *decoder) f32() float32 {
	if p := d.take(4); p != nil {
		return math.Float32frombits(binary.LittleEndian.Uint32(p))
	}
	return 0
}

func (d *decoder) f64() float64 {
	if p := d.take(8); p != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return 0
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	n, w := binary.Uvarint(d.b[d.off:])
	if w <= 0 {
		d.err = fmt.Errorf("bad string length prefix")
		return ""
	}
	d.off += w
	if n > uint64(d.remaining()) {
		d.err = fmt.Errorf("string length %d exceeds datagram", n)
		return ""
	}
	return string(d.take(int(n)))
}

func (d *decoder) record() peer.Record {
	return peer.Record{
		Name:         d.str(),
		Offset:       clock.Ticks(d.i64()),
		Latency:      clock.Ticks(d.i64()),
		Epoch:        clock.Ticks(d.i64()),
		UniverseTime: d.f64(),
		Rate:         d.f32(),
	}
}

// header validates the tag and returns the message type with a decoder
// positioned at the payload.
func header(b []byte) (Type, *decoder, error) {
	if len(b) < tagLen || !bytes.Equal(b[:tagLen], tag[:]) {
		return 0, nil, ErrForeign
	}
	d := &decoder{b: b, off: tagLen}
	t := Type(d.i32())
	if d.err != nil {
		return 0, nil, fmt.Errorf("%w: truncated header", ErrMalformed)
	}
	return t, d, nil
}

func finish(t Type, m Message, d *decoder) (Message, error) {
	if d.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, d.err)
	}
	return m, nil
}

// ParseFromPeer decodes a datagram received by the coordinator.
func ParseFromPeer(b []byte) (Message, error) {
	t, d, err := header(b)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeTime:
		m := &TimeProbe{Sent: clock.Ticks(d.i64())}
		return finish(t, m, d)
	case TypeState:
		m := &StateUpdate{Record: d.record()}
		return finish(t, m, d)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
}

// ParseFromCoordinator decodes a datagram received by a peer.
func ParseFromCoordinator(b []byte) (Message, error) {
	t, d, err := header(b)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeTime:
		m := &TimeReply{
			Sent:        clock.Ticks(d.i64()),
			Coordinator: clock.Ticks(d.i64()),
		}
		return finish(t, m, d)
	case TypeState:
		count := d.i32()
		if d.err == nil && (count < 0 || int(count) > d.remaining()/minRecordLen) {
			return nil, fmt.Errorf("%w: snapshot count %d does not fit in %d bytes", ErrMalformed, count, d.remaining())
		}
		m := &Snapshot{Records: make([]peer.Record, 0, max(count, 0))}
		for i := int32(0); i < count && d.err == nil; i++ {
			m.Records = append(m.Records, d.record())
		}
		return finish(t, m, d)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
}
