package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromTimeUnixEpoch(t *testing.T) {
	require.Equal(t, unixEpochTicks, FromTime(time.Unix(0, 0)))
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 17, 12, 30, 0, 123456700, time.UTC)
	require.True(t, now.Equal(FromTime(now).Time()))
}

func TestSpanConversions(t *testing.T) {
	span := FromDuration(1500 * time.Millisecond)
	require.Equal(t, Ticks(15_000_000), span)
	require.InDelta(t, 1.5, span.Seconds(), 1e-12)
	require.InDelta(t, 1500.0, span.Milliseconds(), 1e-9)
	require.Equal(t, 1500*time.Millisecond, span.Duration())
}

func TestManualClock(t *testing.T) {
	m := NewManual(1000)
	require.Equal(t, Ticks(1000), m.Now())

	m.Advance(time.Second)
	require.Equal(t, Ticks(1000)+TicksPerSecond, m.Now())

	m.Set(42)
	require.Equal(t, Ticks(42), m.Now())
}
