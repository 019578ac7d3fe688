package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)

func TestTimeSeriesAppend(t *testing.T) {
	var s TimeSeries
	assert.True(t, s.Append(TimedValue{Timestamp: t0, Value: 1, Valid: true}, false))
	assert.False(t, s.Append(TimedValue{Timestamp: t0, Value: 2, Valid: true}, false), "duplicate timestamp")
	assert.False(t, s.Append(TimedValue{Timestamp: t0.Add(-time.Minute), Value: 2, Valid: true}, false), "older")
	assert.True(t, s.Append(TimedValue{Timestamp: t0.Add(time.Minute), Value: 1, Valid: true}, false))
	assert.False(t, s.Append(TimedValue{Timestamp: t0.Add(2 * time.Minute), Value: 1, Valid: true}, true), "compressed")
	assert.True(t, s.Append(TimedValue{Timestamp: t0.Add(3 * time.Minute), Value: 0}, true))
	assert.Equal(t, 3, s.Len())

	last, ok := s.LastValid()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), last.Timestamp)
}

func TestTimeSeriesTrimKeepsNewest(t *testing.T) {
	var s TimeSeries
	for i := 0; i < 5; i++ {
		s.Append(TimedValue{Timestamp: t0.Add(time.Duration(i) * time.Hour), Value: float64(i), Valid: true}, false)
	}
	s.TrimBefore(t0.Add(2 * time.Hour))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, t0.Add(2*time.Hour), s.Points[0].Timestamp)

	s.TrimBefore(t0.Add(100 * time.Hour))
	assert.Equal(t, 1, s.Len())
}

func TestOutputValuesRunLength(t *testing.T) {
	var plain, compressed OutputValues
	faults := []bool{false, true, true, true, false}
	for i, f := range faults {
		at := t0.Add(time.Duration(i) * time.Minute)
		plain.Append(at, f, true, false)
		compressed.Append(at, f, true, true)
	}
	assert.Len(t, plain.Points, 5)
	require.Len(t, compressed.Points, 3)
	assert.Equal(t, OutputValue{Start: t0.Add(time.Minute), End: t0.Add(3 * time.Minute), Faulted: true, Valid: true}, compressed.Points[1])
	assert.False(t, compressed.Faulted())

	compressed.TrimBefore(t0.Add(2 * time.Minute))
	assert.Len(t, compressed.Points, 2)
}

func TestActorStateRename(t *testing.T) {
	state := &ActorState{}
	state.Series("sensor-1").Append(TimedValue{Timestamp: t0, Value: 4, Valid: true}, false)

	assert.True(t, state.Rename("sensor-1", "sensor-9"))
	assert.Nil(t, state.TimedValues["sensor-1"])
	assert.Equal(t, 1, state.TimedValues["sensor-9"].Len())
	assert.False(t, state.Rename("missing", "x"))
}
