package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(date, clock string, close float64) Bar {
	return Bar{
		Date: date, Time: clock,
		Open: close - 1, High: close + 1, Low: close - 2,
		Close: close, AdjClose: close, Volume: 1000,
	}
}

func TestVector(t *testing.T) {
	// 2024-01-03 is a Wednesday => pandas dayofweek 2
	b := bar("2024-01-03", "15:30:00", 100)

	got, err := b.Vector([]string{"year", "month", "day", "hour", "dayofweek", "open", "close", "volume"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2024, 1, 3, 15, 2, 99, 100, 1000}, got)
}

func TestVectorUnknownColumn(t *testing.T) {
	_, err := bar("2024-01-03", "15:30:00", 100).Vector([]string{"sentiment"})
	assert.ErrorContains(t, err, "sentiment")
}

func TestVectorBadDatetime(t *testing.T) {
	b := Bar{Date: "not-a-date", Time: "15:30:00"}
	_, err := b.Vector([]string{"year"})
	assert.Error(t, err)
}

func TestSort(t *testing.T) {
	bars := []Bar{
		bar("2024-01-04", "09:30:00", 3),
		bar("2024-01-03", "15:30:00", 2),
		bar("2024-01-03", "09:30:00", 1),
	}
	Sort(bars)
	assert.Equal(t, []float64{1, 2, 3}, []float64{bars[0].Close, bars[1].Close, bars[2].Close})
}

func TestShiftClose(t *testing.T) {
	bars := []Bar{
		bar("2024-01-03", "09:30:00", 10),
		bar("2024-01-03", "10:30:00", 11),
		bar("2024-01-03", "11:30:00", 12),
		bar("2024-01-03", "12:30:00", 13),
	}

	samples, err := ShiftClose(bars, 2, []string{"hour", "close"})
	require.NoError(t, err)
	require.Len(t, samples, 2)

	// each bar is labeled with the close two rows later
	assert.Equal(t, 12.0, samples[0].Y)
	assert.Equal(t, 13.0, samples[1].Y)
	assert.Equal(t, []float64{9, 10}, samples[0].X)
}

func TestShiftCloseEdges(t *testing.T) {
	bars := []Bar{bar("2024-01-03", "09:30:00", 10)}

	t.Run("horizon swallows everything", func(t *testing.T) {
		samples, err := ShiftClose(bars, 1, []string{"close"})
		require.NoError(t, err)
		assert.Empty(t, samples)
	})

	t.Run("non-positive horizon", func(t *testing.T) {
		_, err := ShiftClose(bars, 0, []string{"close"})
		assert.Error(t, err)
	})
}

func TestDateTimeRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	at := time.Date(2024, 1, 3, 15, 30, 0, 0, loc)
	date, clock := FromTime(at)
	assert.Equal(t, "2024-01-03", date)
	assert.Equal(t, "15:30:00", clock)

	got, err := Bar{Date: date, Time: clock}.DateTime(loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}
