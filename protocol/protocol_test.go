package protocol

import (
	"clocksync/clock"
	"clocksync/datamodel/peer"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatLayout(t *testing.T) {
	b := EncodeHeartbeat()
	require.Equal(t, []byte{'C', 'S', 'T', 0, 0, 0, 0}, b)

	m, err := ParseFromPeer(b)
	require.NoError(t, err)
	require.IsType(t, &Heartbeat{}, m)

	m, err = ParseFromCoordinator(b)
	require.NoError(t, err)
	require.IsType(t, &Heartbeat{}, m)
}

func TestTimeProbeAndReply(t *testing.T) {
	probe := EncodeTimeProbe(638_000_000_000_000_123)
	require.Len(t, probe, headerLen+8)
	require.Equal(t, int32(TypeTime), int32(binary.LittleEndian.Uint32(probe[3:7])))

	m, err := ParseFromPeer(probe)
	require.NoError(t, err)
	require.Equal(t, &TimeProbe{Sent: 638_000_000_000_000_123}, m)

	reply := EncodeTimeReply(-5, 77)
	require.Len(t, reply, headerLen+16)

	m, err = ParseFromCoordinator(reply)
	require.NoError(t, err)
	require.Equal(t, &TimeReply{Sent: -5, Coordinator: 77}, m)
}

func TestStateUpdateFieldOrder(t *testing.T) {
	r := peer.Record{
		Name:         "Alice",
		Offset:       100,
		Latency:      20,
		Epoch:        1234,
		UniverseTime: 10.5,
		Rate:         0.25,
	}
	b := EncodeStateUpdate(r)

	// tag, type, 1-byte length, name, then the fixed-width fields
	require.Equal(t, byte(5), b[7])
	require.Equal(t, "Alice", string(b[8:13]))
	p := b[13:]
	assert.Equal(t, uint64(100), binary.LittleEndian.Uint64(p[0:8]))
	assert.Equal(t, uint64(20), binary.LittleEndian.Uint64(p[8:16]))
	assert.Equal(t, uint64(1234), binary.LittleEndian.Uint64(p[16:24]))
	assert.Equal(t, 10.5, math.Float64frombits(binary.LittleEndian.Uint64(p[24:32])))
	assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(p[32:36])))
	require.Len(t, p, 36)

	m, err := ParseFromPeer(b)
	require.NoError(t, err)
	require.Equal(t, r, m.(*StateUpdate).Record)
}

func TestLongNameUsesMultiByteLength(t *testing.T) {
	r := peer.Record{Name: strings.Repeat("x", 300), Rate: 1}
	b := EncodeStateUpdate(r)
	require.Equal(t, []byte{0xac, 0x02}, b[7:9])

	m, err := ParseFromPeer(b)
	require.NoError(t, err)
	require.Equal(t, r.Name, m.(*StateUpdate).Name)
}

func TestSnapshot(t *testing.T) {
	records := []peer.Record{
		{Name: "a", Offset: -3, Latency: 4, Epoch: 5, UniverseTime: 6, Rate: 1},
		{Name: "bb", Offset: 7, Latency: 8, Epoch: 9, UniverseTime: -10, Rate: 0},
	}
	m, err := ParseFromCoordinator(EncodeSnapshot(records))
	require.NoError(t, err)
	require.Equal(t, records, m.(*Snapshot).Records)

	m, err = ParseFromCoordinator(EncodeSnapshot(nil))
	require.NoError(t, err)
	require.Empty(t, m.(*Snapshot).Records)
}

func TestTrailingBytesIgnored(t *testing.T) {
	b := append(EncodeTimeReply(1, 2), make([]byte, 200)...)
	m, err := ParseFromCoordinator(b)
	require.NoError(t, err)
	require.Equal(t, &TimeReply{Sent: 1, Coordinator: 2}, m)
}

func TestForeignDatagrams(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		{'C', 'S'},
		[]byte("GET / HTTP/1.1"),
		{0x03, 'C', 'S', 'T', 0, 0, 0, 0},
	} {
		_, err := ParseFromPeer(b)
		require.ErrorIs(t, err, ErrForeign)
		_, err = ParseFromCoordinator(b)
		require.ErrorIs(t, err, ErrForeign)
	}
}

func TestMalformedDatagrams(t *testing.T) {
	full := EncodeStateUpdate(peer.Record{Name: "Bob", Rate: 1})
	for _, n := range []int{3, 5, headerLen, headerLen + 2, len(full) - 1} {
		_, err := ParseFromPeer(full[:n])
		require.ErrorIs(t, err, ErrMalformed, "length %d", n)
	}

	_, err := ParseFromCoordinator(EncodeTimeProbe(1))
	require.ErrorIs(t, err, ErrMalformed, "a bare probe is not a valid reply")

	// count claims more records than the datagram can hold
	b := EncodeSnapshot([]peer.Record{{Name: "x"}})
	binary.LittleEndian.PutUint32(b[headerLen:], 1000)
	_, err = ParseFromCoordinator(b)
	require.ErrorIs(t, err, ErrMalformed)

	binary.LittleEndian.PutUint32(b[headerLen:], math.MaxUint32)
	_, err = ParseFromCoordinator(b)
	require.ErrorIs(t, err, ErrMalformed)

	// string length running past the end
	b = EncodeStateUpdate(peer.Record{Name: "x"})
	b[headerLen] = 0x7f
	_, err = ParseFromPeer(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUnknownType(t *testing.T) {
	b := EncodeHeartbeat()
	binary.LittleEndian.PutUint32(b[3:], 9)
	_, err := ParseFromPeer(b)
	require.ErrorIs(t, err, ErrUnknownType)
	require.NotErrorIs(t, err, ErrMalformed)
}

func TestEncodeAllocatesPerMessage(t *testing.T) {
	a := EncodeTimeProbe(clock.Ticks(1))
	b := EncodeTimeProbe(clock.Ticks(2))
	a[7] = 0xff
	require.NotEqual(t, a[7], b[7])
	require.Equal(t, len(a), cap(a))
}
