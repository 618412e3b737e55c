package model

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleKey(t *testing.T) {
	ts := time.Date(2024, 3, 9, 10, 7, 42, 123000000, time.UTC)
	assert.Equal(t, "20240309T1007", SampleKey(ts))

	// Same minute, different seconds share a key.
	assert.Equal(t, SampleKey(ts), SampleKey(ts.Add(15*time.Second)))
	assert.NotEqual(t, SampleKey(ts), SampleKey(ts.Add(time.Minute)))
}

func TestSampleKey_UsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	ts := time.Date(2024, 3, 9, 19, 7, 0, 0, tokyo)
	assert.Equal(t, "20240309T1007", SampleKey(ts))
}

func TestParseSampleKey(t *testing.T) {
	ts, err := ParseSampleKey("20240309T1007")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 10, 7, 0, 0, time.UTC), ts)

	assert.True(t, IsSampleKey("20240309T1007"))
	assert.False(t, IsSampleKey("2024-03-09"))
	assert.False(t, IsSampleKey("20241399T1007"))
}

func TestDateKeys(t *testing.T) {
	loc := time.UTC
	ts := time.Date(2024, 3, 1, 0, 0, 30, 0, loc)

	assert.Equal(t, "2024-03-01", DateKey(ts, loc))
	assert.Equal(t, "2024-02-29", PreviousDateKey(ts, loc))
	assert.Equal(t, "2023-12-31", PreviousDateKey(time.Date(2024, 1, 1, 23, 59, 0, 0, loc), loc))
}

func TestPreviousDateKey_AcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2024-03-10 is 23 hours long in New York.
	ts := time.Date(2024, 3, 11, 0, 30, 0, 0, ny)
	assert.Equal(t, "2024-03-10", PreviousDateKey(ts, ny))
	assert.Equal(t, "2024-03-09", DateKey(ts.Add(-24*time.Hour), ny))
}

func TestDateKey_RespectsLocation(t *testing.T) {
	ny := time.FixedZone("EST", -5*60*60)
	ts := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-02", DateKey(ts, time.UTC))
	assert.Equal(t, "2024-03-01", DateKey(ts, ny))
}

func TestNewSample(t *testing.T) {
	ts := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	s := NewSample(42, ts, time.UTC)

	assert.Equal(t, 42, s.Count)
	assert.Equal(t, "10:00:00 AM", s.Label)
	assert.Equal(t, "20240309T1000", s.Key())
}

func TestSample_JSONFields(t *testing.T) {
	s := NewSample(7, time.Date(2024, 3, 9, 22, 15, 5, 0, time.UTC), time.UTC)
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, float64(7), fields["count"])
	assert.Equal(t, "2024-03-09T22:15:05Z", fields["timestamp"])
	assert.Equal(t, "10:15:05 PM", fields["label"])

	avg := DailyAverage{AverageUsers: 20, EntryCount: 3, Timestamp: s.Timestamp}
	data, err = json.Marshal(avg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"averageUsers":20,"entryCount":3,"timestamp":"2024-03-09T22:15:05Z"}`, string(data))
}
