package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestCleanupMonitor_NeverSucceeded(t *testing.T) {
	cm := &CleanupMonitor{}
	if cm.IsHealthy() {
		t.Error("Monitor with no successes should be unhealthy")
	}

	status := cm.Status()
	if status.Healthy {
		t.Error("Status should report unhealthy")
	}
	if status.LastSuccess != "" || status.LastAttempt != "" {
		t.Errorf("Expected empty timestamps, got %+v", status)
	}
}

func TestCleanupMonitor_SuccessMakesHealthy(t *testing.T) {
	cm := &CleanupMonitor{}
	cm.RecordSuccess(12, 340)

	if !cm.IsHealthy() {
		t.Error("Monitor should be healthy after a success")
	}

	status := cm.Status()
	if !status.Healthy {
		t.Error("Status should report healthy")
	}
	if status.LastDeleted != 12 || status.LastFolded != 340 {
		t.Errorf("Expected deleted=12 folded=340, got %+v", status)
	}
	if status.LastSuccess == "" || status.TimeSinceSuccess == "" {
		t.Errorf("Expected success timestamps, got %+v", status)
	}
	if status.ConsecutiveErrors != 0 || status.LastError != "" {
		t.Errorf("Expected no error fields, got %+v", status)
	}
}

func TestCleanupMonitor_StaleSuccessGoesUnhealthy(t *testing.T) {
	cm := &CleanupMonitor{}
	cm.RecordSuccess(0, 0)

	// Two missed hourly cycles is still within tolerance
	cm.mu.Lock()
	cm.lastSuccess = time.Now().Add(-2 * time.Hour)
	cm.mu.Unlock()
	if !cm.IsHealthy() {
		t.Error("Two hours since success should still be healthy")
	}

	// Past three missed cycles the monitor degrades
	cm.mu.Lock()
	cm.lastSuccess = time.Now().Add(-3*time.Hour - time.Minute)
	cm.mu.Unlock()
	if cm.IsHealthy() {
		t.Error("Over three hours since success should be unhealthy")
	}
}

func TestCleanupMonitor_ConsecutiveFailures(t *testing.T) {
	cm := &CleanupMonitor{}
	cm.RecordSuccess(0, 0)

	// Three failures are tolerated, the fourth tips health over
	for i := 0; i < 3; i++ {
		cm.RecordFailure(errors.New("cycle failed"))
	}
	if !cm.IsHealthy() {
		t.Error("Three consecutive failures should still be healthy")
	}

	cm.RecordFailure(errors.New("cycle failed"))
	if cm.IsHealthy() {
		t.Error("Four consecutive failures should be unhealthy")
	}

	status := cm.Status()
	if status.ConsecutiveErrors != 4 {
		t.Errorf("Expected 4 consecutive errors, got %d", status.ConsecutiveErrors)
	}
	if status.LastError != "cycle failed" {
		t.Errorf("Expected last error, got %q", status.LastError)
	}

	// Recovery resets the streak
	cm.RecordSuccess(5, 100)
	if !cm.IsHealthy() {
		t.Error("Success should restore health")
	}
	if cm.Status().ConsecutiveErrors != 0 {
		t.Error("Success should reset the error streak")
	}
}
