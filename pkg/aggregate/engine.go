// Package aggregate folds action records into permanent rollup buckets.
// Folding is incremental and resumable: a persisted high-water mark tracks
// the highest record id already counted, and every fold batch advances it
// atomically with the bucket increments it produced.
package aggregate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Engine folds records into buckets.
type Engine struct {
	actions storage.ActionStore
	aggs    storage.AggregateStore
}

// New creates an aggregation engine over the given stores.
func New(actions storage.ActionStore, aggs storage.AggregateStore) *Engine {
	return &Engine{actions: actions, aggs: aggs}
}

// FoldResult summarizes one Fold call.
type FoldResult struct {
	RecordsFolded int    `json:"records_folded"`
	FromID        uint64 `json:"from_id"`
	ToID          uint64 `json:"to_id"`
}

// Fold counts every record with hwm < id <= upTo into its hourly and daily
// buckets. Batches are bounded so one call never holds a transaction open
// across an unbounded backlog; each batch commits its deltas and the new
// high-water mark together, so a crash mid-fold resumes exactly where the
// last batch committed.
//
// Records whose bucket is already finalized are counted in the result but
// silently skipped by the store. A fold is therefore safe to run at any
// time, including concurrently with ingestion: records above upTo wait for
// the next fold.
func (e *Engine) Fold(ctx context.Context, upTo uint64) (FoldResult, error) {
	hwm, err := e.aggs.HighWaterMark(ctx)
	if err != nil {
		return FoldResult{}, fmt.Errorf("failed to read high-water mark: %w", err)
	}

	result := FoldResult{FromID: hwm, ToID: hwm}
	if upTo <= hwm {
		return result, nil
	}

	for from := hwm; from < upTo; {
		to := from + config.FoldBatchSize
		if to > upTo {
			to = upTo
		}

		deltas, folded, err := e.foldBatch(ctx, from, to)
		if err != nil {
			return result, err
		}

		// The mark advances to the batch bound even when the id range
		// contains gaps from deleted records.
		if err := e.aggs.ApplyDeltas(ctx, deltas, to); err != nil {
			return result, fmt.Errorf("failed to apply deltas: %w", err)
		}

		result.RecordsFolded += folded
		result.ToID = to
		from = to
	}

	return result, nil
}

// foldBatch scans one id range and consolidates its bucket increments.
func (e *Engine) foldBatch(ctx context.Context, from, to uint64) ([]bucket.Delta, int, error) {
	pending := make(map[bucket.Key]uint64)
	folded := 0

	err := e.actions.ScanRange(ctx, from, to, func(rec action.Record) error {
		for _, key := range bucket.KeysFor(rec) {
			pending[key]++
		}
		folded++
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan records %d..%d: %w", from, to, err)
	}

	deltas := make([]bucket.Delta, 0, len(pending))
	for key, count := range pending {
		deltas = append(deltas, bucket.Delta{Key: key, Count: count})
	}
	return deltas, folded, nil
}

// Recompute rebuilds buckets whose windows start in [start, end) from the
// surviving detail records. It is a repair tool: after sampling has thinned
// old records, recomputed counts are lower-bound estimates, so it refuses
// windows the retention mark has already passed.
func (e *Engine) Recompute(ctx context.Context, start, end time.Time, mark *storage.RetentionMark) (int, error) {
	if mark != nil && start.Before(mark.Cutoff) {
		return 0, fmt.Errorf("window start %s precedes retention cutoff %s, counts would be lossy",
			start.UTC().Format(time.RFC3339), mark.Cutoff.UTC().Format(time.RFC3339))
	}

	maxID, err := e.actions.MaxID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read max id: %w", err)
	}

	pending := make(map[bucket.Key]uint64)
	err = e.actions.ScanRange(ctx, 0, maxID, func(rec action.Record) error {
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			return nil
		}
		for _, key := range bucket.KeysFor(rec) {
			pending[key]++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan records: %w", err)
	}

	now := time.Now().UTC()
	rebuilt := make([]bucket.Bucket, 0, len(pending))
	for key, count := range pending {
		rebuilt = append(rebuilt, bucket.Bucket{Key: key, Count: count, UpdatedAt: now})
	}

	if len(rebuilt) > 0 {
		if err := e.aggs.PutBuckets(ctx, rebuilt); err != nil {
			return 0, fmt.Errorf("failed to write recomputed buckets: %w", err)
		}
	}

	log.Printf("Recomputed %d buckets for window %s..%s",
		len(rebuilt), start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	return len(rebuilt), nil
}
