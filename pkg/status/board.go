// Package status holds the dashboard display state: current count, last
// update and connection status. Every component writes to one Board and the
// dashboard reads from it.
package status

import (
	"slices"
	"sync"
	"time"
)

// Status is the user-visible connection state.
type Status string

const (
	Connecting   Status = "connecting"
	Synchronized Status = "synchronized"
	FetchError   Status = "fetch error"
	ReadError    Status = "read error"
	AuthError    Status = "secure connection error"
)

// Snapshot is a copy of the board at one moment.
type Snapshot struct {
	CurrentCount     *int       `json:"current_count"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
	LastUpdatedLabel string     `json:"last_updated_label,omitempty"`
	Status           Status     `json:"status"`
	SessionReady     bool       `json:"session_ready"`
}

// Board is the shared display state.
type Board struct {
	mu        sync.RWMutex
	snap      Snapshot
	observers []func(Snapshot)
}

// NewBoard returns a board in the connecting state.
func NewBoard() *Board {
	return &Board{snap: Snapshot{Status: Connecting}}
}

// OnChange registers fn to run after every change. fn must not block.
func (b *Board) OnChange(fn func(Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// SetStatus replaces the status.
func (b *Board) SetStatus(s Status) {
	b.update(func(snap *Snapshot) { snap.Status = s })
}

// RecordCount sets the current count and last-updated time.
func (b *Board) RecordCount(count int, at time.Time, label string) {
	b.update(func(snap *Snapshot) {
		c := count
		t := at
		snap.CurrentCount = &c
		snap.LastUpdated = &t
		snap.LastUpdatedLabel = label
	})
}

// SetSessionReady marks the session as acquired.
func (b *Board) SetSessionReady() {
	b.update(func(snap *Snapshot) { snap.SessionReady = true })
}

// Snapshot returns a copy of the current state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.clone()
}

// Status returns the current status.
func (b *Board) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.Status
}

func (b *Board) update(fn func(*Snapshot)) {
	b.mu.Lock()
	fn(&b.snap)
	snap := b.snap.clone()
	observers := slices.Clone(b.observers)
	b.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.CurrentCount != nil {
		c := *s.CurrentCount
		out.CurrentCount = &c
	}
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		out.LastUpdated = &t
	}
	return out
}
