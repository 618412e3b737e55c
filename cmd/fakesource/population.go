package main

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Population is a simulated online-user count: a daily curve plus a bounded
// random walk, so the dashboard chart has something realistic to draw.
type Population struct {
	mu      sync.Mutex
	rng     *rand.Rand
	base    int
	swing   float64
	noise   int
	current int
}

// NewPopulation creates a simulator centred on base users. swing is the
// fraction of base added or removed by the time of day.
func NewPopulation(base int, swing float64, seed int64) *Population {
	return &Population{
		rng:     rand.New(rand.NewSource(seed)),
		base:    base,
		swing:   swing,
		noise:   max(base/50, 1),
		current: base,
	}
}

// Step moves the count toward the curve value for now.
func (p *Population) Step(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	hour := float64(now.Hour()) + float64(now.Minute())/60
	// Peak at 20:00, trough at 08:00.
	target := float64(p.base) * (1 + p.swing*math.Sin((hour-14)/24*2*math.Pi))

	next := p.current + int(math.Round((target-float64(p.current))/4))
	next += p.rng.Intn(2*p.noise+1) - p.noise
	if next < 0 {
		next = 0
	}
	p.current = next
	return next
}

// Current returns the latest count.
func (p *Population) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Fail reports whether the next request should be answered with an error.
func (p *Population) Fail(rate float64) bool {
	if rate <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < rate
}
