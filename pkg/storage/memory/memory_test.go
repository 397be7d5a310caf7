package memory

import (
	"context"
	"testing"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/artifact"
	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/storage"
)

func TestMemoryStore_AppendAndQuery(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Append(ctx, action.Record{
		Timestamp: now,
		Source:    "browser",
		Type:      "click",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected id 1, got %d", id)
	}

	ids, err := store.AppendBatch(ctx, []action.Record{
		{Timestamp: now, Source: "editor", Type: "save"},
		{Timestamp: now, Source: "browser", Type: "scroll"},
	})
	if err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Errorf("Expected ids [2 3], got %v", ids)
	}

	results, err := store.Query(ctx, storage.QueryRequest{
		Sources: []string{"browser"},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 browser records, got %d", len(results))
	}
}

func TestMemoryStore_ScanRangeBounds(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, action.Record{Timestamp: now, Source: "s", Type: "t"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	var seen []uint64
	err := store.ScanRange(ctx, 1, 4, func(rec action.Record) error {
		seen = append(seen, rec.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanRange failed: %v", err)
	}
	// from is exclusive, to inclusive
	if len(seen) != 3 || seen[0] != 2 || seen[2] != 4 {
		t.Errorf("Expected ids [2 3 4], got %v", seen)
	}
}

func TestMemoryStore_DeleteOlderThanSparesKeepIDs(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if _, err := store.Append(ctx, action.Record{
			Timestamp: cutoff.Add(-time.Hour),
			Source:    "s",
			Type:      "t",
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	deleted, err := store.DeleteOlderThan(ctx, cutoff, 10, map[uint64]struct{}{3: {}, 7: {}})
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 8 {
		t.Errorf("Expected 8 deleted, got %d", deleted)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalActions != 2 {
		t.Errorf("Expected 2 survivors, got %d", stats.TotalActions)
	}
	// Ids are never reused after deletion
	if stats.MaxID != 10 {
		t.Errorf("Expected max id 10, got %d", stats.MaxID)
	}
}

func TestMemoryStore_DeleteRespectsSnapshotBound(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		if _, err := store.Append(ctx, action.Record{
			Timestamp: cutoff.Add(-time.Hour),
			Source:    "s",
			Type:      "t",
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	deleted, err := store.DeleteOlderThan(ctx, cutoff, 4, nil)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("Expected 4 deleted (ids above snapshot untouched), got %d", deleted)
	}
}

func TestMemoryStore_ApplyDeltasSkipsFinal(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	key := bucket.Key{
		Granularity: bucket.Hour,
		Start:       time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		Dimension:   bucket.Total,
	}

	if err := store.ApplyDeltas(ctx, []bucket.Delta{{Key: key, Count: 5}}, 5); err != nil {
		t.Fatalf("ApplyDeltas failed: %v", err)
	}

	n, err := store.FinalizeBefore(ctx, key.End())
	if err != nil {
		t.Fatalf("FinalizeBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 finalized, got %d", n)
	}

	// Increments to a finalized bucket are dropped, the mark still moves.
	if err := store.ApplyDeltas(ctx, []bucket.Delta{{Key: key, Count: 3}}, 8); err != nil {
		t.Fatalf("ApplyDeltas failed: %v", err)
	}

	b, err := store.GetBucket(ctx, key)
	if err != nil {
		t.Fatalf("GetBucket failed: %v", err)
	}
	if b.Count != 5 {
		t.Errorf("Expected count 5, got %d", b.Count)
	}
	hwm, err := store.HighWaterMark(ctx)
	if err != nil {
		t.Fatalf("HighWaterMark failed: %v", err)
	}
	if hwm != 8 {
		t.Errorf("Expected hwm 8, got %d", hwm)
	}
}

func TestMemoryStore_ArtifactsHaveNoDelete(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	id, err := store.PutArtifact(ctx, artifact.Artifact{Kind: artifact.KindInsight})
	if err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	got, err := store.GetArtifact(ctx, id)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got.Kind != artifact.KindInsight {
		t.Errorf("Expected insight, got %s", got.Kind)
	}

	if _, err := store.GetArtifact(ctx, 999); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	list, err := store.ListArtifacts(ctx, artifact.KindPrediction, 10)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no predictions, got %d", len(list))
	}
}

func TestMemoryStore_MaintenanceState(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	mark, err := store.RetentionMark(ctx)
	if err != nil {
		t.Fatalf("RetentionMark failed: %v", err)
	}
	if mark != nil {
		t.Errorf("Expected nil mark on fresh store, got %+v", mark)
	}

	want := storage.RetentionMark{Cutoff: time.Now().UTC(), SnapshotID: 42}
	if err := store.SetRetentionMark(ctx, want); err != nil {
		t.Fatalf("SetRetentionMark failed: %v", err)
	}
	mark, err = store.RetentionMark(ctx)
	if err != nil {
		t.Fatalf("RetentionMark failed: %v", err)
	}
	if mark == nil || mark.SnapshotID != 42 {
		t.Errorf("Expected snapshot 42, got %+v", mark)
	}

	state, err := store.CycleState(ctx)
	if err != nil {
		t.Fatalf("CycleState failed: %v", err)
	}
	if state != nil {
		t.Errorf("Expected nil cycle state, got %+v", state)
	}
	if err := store.SetCycleState(ctx, storage.CycleState{Phase: "fold"}); err != nil {
		t.Fatalf("SetCycleState failed: %v", err)
	}
	if err := store.ClearCycleState(ctx); err != nil {
		t.Fatalf("ClearCycleState failed: %v", err)
	}
	state, err = store.CycleState(ctx)
	if err != nil {
		t.Fatalf("CycleState failed: %v", err)
	}
	if state != nil {
		t.Errorf("Expected cleared cycle state, got %+v", state)
	}
}

func TestMemoryStore_ClosedWritesFail(t *testing.T) {
	store := New()
	store.Close()

	if _, err := store.Append(context.Background(), action.Record{Source: "s", Type: "t"}); err != storage.ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
