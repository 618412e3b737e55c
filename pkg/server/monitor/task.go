// Package monitor tracks the health of popwatch's background tasks and the
// disk usage of its data directory.
package monitor

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DefaultMaxConsecutiveErrors is the failure streak after which a task is
// reported unhealthy.
const DefaultMaxConsecutiveErrors = 3

// TaskMonitor tracks the outcomes of one periodic task.
type TaskMonitor struct {
	name       string
	staleAfter time.Duration
	maxErrors  int
	clock      quartz.Clock

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewTaskMonitor creates a monitor for a task that should succeed at least
// once every staleAfter.
func NewTaskMonitor(name string, staleAfter time.Duration, clock quartz.Clock) *TaskMonitor {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &TaskMonitor{
		name:       name,
		staleAfter: staleAfter,
		maxErrors:  DefaultMaxConsecutiveErrors,
		clock:      clock,
	}
}

// Name returns the task name.
func (tm *TaskMonitor) Name() string {
	return tm.name
}

// RecordSuccess records a successful run.
func (tm *TaskMonitor) RecordSuccess() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := tm.clock.Now()
	tm.lastSuccess = now
	tm.lastAttempt = now
	tm.consecutiveErrors = 0
	tm.lastError = ""
}

// RecordFailure records a failed run.
func (tm *TaskMonitor) RecordFailure(err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.lastAttempt = tm.clock.Now()
	tm.consecutiveErrors++
	if err != nil {
		tm.lastError = err.Error()
	}
}

// IsHealthy reports whether the task is working. Unhealthy conditions:
//   - never succeeded
//   - no success within staleAfter
//   - more than the allowed consecutive failures
func (tm *TaskMonitor) IsHealthy() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.healthyLocked()
}

func (tm *TaskMonitor) healthyLocked() bool {
	if tm.lastSuccess.IsZero() {
		return false
	}
	if tm.staleAfter > 0 && tm.clock.Since(tm.lastSuccess) > tm.staleAfter {
		return false
	}
	return tm.consecutiveErrors <= tm.maxErrors
}

// TaskStatus is a task's state as reported by the health endpoint.
type TaskStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current task status.
func (tm *TaskMonitor) Status() TaskStatus {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	status := TaskStatus{
		Name:    tm.name,
		Healthy: tm.healthyLocked(),
	}
	if !tm.lastSuccess.IsZero() {
		status.LastSuccess = tm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = tm.clock.Since(tm.lastSuccess).Round(time.Second).String()
	}
	if !tm.lastAttempt.IsZero() {
		status.LastAttempt = tm.lastAttempt.Format(time.RFC3339)
	}
	if tm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = tm.consecutiveErrors
		status.LastError = tm.lastError
	}
	return status
}
