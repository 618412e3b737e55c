// Package model defines the documents popwatch stores: population samples and
// daily averages, plus the key derivations that address them.
package model

import (
	"strings"
	"time"
)

const (
	sampleKeyLayout = "20060102T1504"
	dateKeyLayout   = "2006-01-02"
	labelLayout     = "3:04:05 PM"
)

// Sample is one timestamped population reading.
type Sample struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label"`
}

// DailyAverage is the rollup of one day's window of samples.
type DailyAverage struct {
	AverageUsers int       `json:"averageUsers"`
	Timestamp    time.Time `json:"timestamp"`
	EntryCount   int       `json:"entryCount"`
}

// NewSample builds a sample taken at now, labelled in loc.
func NewSample(count int, now time.Time, loc *time.Location) Sample {
	return Sample{
		Count:     count,
		Timestamp: now.UTC(),
		Label:     TimeLabel(now, loc),
	}
}

// Key returns the store key for the sample.
func (s Sample) Key() string {
	return SampleKey(s.Timestamp)
}

// SampleKey derives the minute-granularity document ID for a sample taken at t.
// It is the UTC ISO instant cut to minutes with punctuation removed, so two
// samples in the same minute share a key and the later one wins.
func SampleKey(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(sampleKeyLayout)
}

// ParseSampleKey is the inverse of SampleKey.
func ParseSampleKey(key string) (time.Time, error) {
	return time.ParseInLocation(sampleKeyLayout, key, time.UTC)
}

// DateKey returns the calendar date of t in loc as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dateKeyLayout)
}

// PreviousDateKey returns the calendar date immediately before t's date in loc.
func PreviousDateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d-1, 12, 0, 0, 0, loc).Format(dateKeyLayout)
}

// TimeLabel formats t as a short wall-clock label in loc, e.g. "10:00:00 AM".
func TimeLabel(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(labelLayout)
}

// IsSampleKey reports whether key looks like a SampleKey.
func IsSampleKey(key string) bool {
	if len(key) != len(sampleKeyLayout) || !strings.Contains(key, "T") {
		return false
	}
	_, err := ParseSampleKey(key)
	return err == nil
}
