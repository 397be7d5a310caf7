package monitor

import (
	"sync"
	"time"
)

// CleanupMonitor tracks maintenance cycle health and failures.
type CleanupMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	lastDeleted       int
	lastFolded        int
}

// RecordSuccess records a completed cycle.
func (cm *CleanupMonitor) RecordSuccess(deleted, folded int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastSuccess = time.Now()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors = 0
	cm.lastError = ""
	cm.lastDeleted = deleted
	cm.lastFolded = folded
}

// RecordFailure records a failed cycle.
func (cm *CleanupMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// IsHealthy returns true if maintenance is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - Three hourly cycles have passed without a success
//   - More than 3 consecutive failures
func (cm *CleanupMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isHealthyLocked()
}

// CleanupStatus is the health-check view of the monitor.
type CleanupStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastDeleted       int    `json:"last_deleted"`
	LastFolded        int    `json:"last_folded"`
}

// Status returns current maintenance status for health checks.
func (cm *CleanupMonitor) Status() CleanupStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CleanupStatus{
		Healthy:     cm.isHealthyLocked(),
		LastDeleted: cm.lastDeleted,
		LastFolded:  cm.lastFolded,
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(cm.lastSuccess).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}

func (cm *CleanupMonitor) isHealthyLocked() bool {
	if cm.lastSuccess.IsZero() {
		return false
	}
	if time.Since(cm.lastSuccess) > 3*time.Hour {
		return false
	}
	if cm.consecutiveErrors > 3 {
		return false
	}
	return true
}
