package peer

import (
	"clocksync/clock"
	"clocksync/datamodel/peer"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableEmpty(t *testing.T) {
	tbl := &Table{}
	_, ok := tbl.Get("Alice")
	assert.False(t, ok)
	assert.Empty(t, tbl.All())
	assert.Equal(t, 0, tbl.Len())
}

func TestTableReplaceIsWholesale(t *testing.T) {
	tbl := &Table{}
	tbl.Replace([]peer.Record{{Name: "Alice"}, {Name: "Bob"}})
	tbl.Replace([]peer.Record{{Name: "Carol"}})

	_, ok := tbl.Get("Alice")
	assert.False(t, ok)
	_, ok = tbl.Get("Carol")
	assert.True(t, ok)
	assert.Equal(t, 1, tbl.Len())
}

func TestTableReplaceIdempotent(t *testing.T) {
	records := []peer.Record{
		{Name: "Bob", UniverseTime: 3, Rate: 1},
		{Name: "Alice", UniverseTime: 7, Rate: 2},
	}

	tbl := &Table{}
	tbl.Replace(records)
	first := tbl.All()
	tbl.Replace(records)
	assert.Equal(t, first, tbl.All())
	assert.Equal(t, []string{"Alice", "Bob"}, []string{first[0].Name, first[1].Name})
}

func TestTableNameAliasingLastWins(t *testing.T) {
	tbl := &Table{}
	tbl.Replace([]peer.Record{
		{Name: "Kerbal X", UniverseTime: 1},
		{Name: "Kerbal X", UniverseTime: 2},
	})

	rec, ok := tbl.Get("Kerbal X")
	require.True(t, ok)
	assert.Equal(t, 2.0, rec.UniverseTime)
	assert.Equal(t, 1, tbl.Len())
}

func TestExtrapolate(t *testing.T) {
	rec := peer.Record{Epoch: 1000 * clock.TicksPerSecond, UniverseTime: 50, Rate: 2}
	now := rec.Epoch + clock.FromDuration(5*time.Second)

	assert.InDelta(t, 60.0, Extrapolate(rec, now), 1e-9)
	assert.InDelta(t, -2.5, Drift(57.5, rec, now), 1e-9)
}

func TestExtrapolateZeroRate(t *testing.T) {
	rec := peer.Record{Epoch: 1000 * clock.TicksPerSecond, UniverseTime: 50, Rate: 0}
	for _, d := range []time.Duration{0, time.Second, time.Hour} {
		assert.Equal(t, 50.0, Extrapolate(rec, rec.Epoch+clock.FromDuration(d)))
	}
}

func TestExtrapolateNegativeRateAndPast(t *testing.T) {
	rec := peer.Record{Epoch: 1000 * clock.TicksPerSecond, UniverseTime: 50, Rate: -1}
	assert.InDelta(t, 45.0, Extrapolate(rec, rec.Epoch+clock.FromDuration(5*time.Second)), 1e-9)

	rec.Rate = 1
	assert.InDelta(t, 48.0, Extrapolate(rec, rec.Epoch-clock.FromDuration(2*time.Second)), 1e-9)
}
