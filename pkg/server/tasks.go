package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/cleanup"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/server/monitor"
	"github.com/trackd-io/trackd/pkg/storage"
	"github.com/trackd-io/trackd/pkg/storage/badger"
)

// RunCleanup runs the maintenance cycle on schedule. Scheduled cycles are
// destructive; the dry-run default applies only to the HTTP trigger, where
// a human is asking.
func RunCleanup(orch *cleanup.Orchestrator, mon *monitor.CleanupMonitor, cfg Config, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.CleanupInterval)
	defer ticker.Stop()

	opts := cleanup.Options{
		DryRun:     false,
		KeepDays:   cfg.KeepDays,
		SampleRate: cfg.SampleRate,
	}

	// Run cleanup with retry and exponential backoff
	runWithRetry := func(ctx context.Context, isInitial bool) {
		maxRetries := 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
				log.Printf("Retrying cleanup in %v (attempt %d/%d)...", delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			start := time.Now()
			report, err := orch.Run(ctx, opts)

			if err == nil {
				mon.RecordSuccess(report.Deleted, report.RecordsFolded)
				if isInitial {
					log.Printf("Initial cleanup completed in %v", time.Since(start).Round(time.Millisecond))
				} else {
					log.Printf("Cleanup completed in %v (folded=%d deleted=%d)",
						time.Since(start).Round(time.Millisecond), report.RecordsFolded, report.Deleted)
				}
				return
			}

			// A cycle already running elsewhere is not a failure.
			if errors.Is(err, cleanup.ErrCycleInProgress) {
				log.Println("Cleanup skipped, another cycle is in progress")
				return
			}

			mon.RecordFailure(err)
			log.Printf("Cleanup failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)

			status := mon.Status()
			if status.ConsecutiveErrors > 3 {
				log.Printf("ALERT: Cleanup has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
		}

		log.Printf("Cleanup failed after %d attempts, will retry on next schedule", maxRetries+1)
	}

	// Run once on startup (non-blocking)
	go func() {
		log.Println("Running initial cleanup (fold -> finalize -> sample -> delete)...")
		runWithRetry(context.Background(), true)
	}()

	for {
		select {
		case <-ticker.C:
			log.Println("Scheduled cleanup started...")
			runWithRetry(context.Background(), false)
		case <-stop:
			log.Println("Stopping cleanup scheduler")
			return
		}
	}
}

// Broadcaster is the hub surface the broadcast loop needs.
type Broadcaster interface {
	HasClients() bool
	BroadcastActions([]action.Record)
}

// BroadcastRecent periodically fetches and broadcasts recent actions to
// WebSocket clients. Uses exponential backoff on errors to prevent log spam
// during outages.
func BroadcastRecent(ctx context.Context, store storage.Store, hub Broadcaster) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			results, err := store.Query(ctx, storage.QueryRequest{
				Start: time.Now().Add(-1 * time.Minute),
				End:   time.Now(),
				Limit: 1000,
			})
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at 5m, so persistent outages do
				// not flood the log
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}

				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Printf("Failed to query actions for broadcast (error #%d, backoff %v): %v",
						consecutiveErrors, backoff, err)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Printf("Action broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			if len(results) > 0 {
				hub.BroadcastActions(results)
			}
		}
	}
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim the
// space freed by retention deletes. LSM value logs keep deleted data until
// GC rewrites them.
func RunBadgerGC(store storage.Store, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	badgerStore, ok := store.(*badger.Store)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			log.Println("Running BadgerDB garbage collection...")
			start := time.Now()

			// One iteration per tick; GC runs again in ten minutes anyway
			err := badgerStore.RunGC(0.5)
			if err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
