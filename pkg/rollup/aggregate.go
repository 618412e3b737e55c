package rollup

import (
	"math"

	"github.com/nicktill/popwatch/pkg/model"
)

// Aggregate accumulates counts for one rollup period.
type Aggregate struct {
	Sum   int64
	Count int
	Min   int
	Max   int
}

// Add folds one count into the aggregate.
func (a *Aggregate) Add(v int) {
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += int64(v)
	a.Count++
}

// Average returns the mean rounded half-up. Zero for an empty aggregate.
func (a *Aggregate) Average() int {
	if a.Count == 0 {
		return 0
	}
	return int(math.Floor(float64(a.Sum)/float64(a.Count) + 0.5))
}

// Mean is the half-up rounded arithmetic mean of counts.
func Mean(counts []int) int {
	var a Aggregate
	for _, c := range counts {
		a.Add(c)
	}
	return a.Average()
}

// FromSamples aggregates the counts of samples.
func FromSamples(samples []model.Sample) Aggregate {
	var a Aggregate
	for _, s := range samples {
		a.Add(s.Count)
	}
	return a
}
