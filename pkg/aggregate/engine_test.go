package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/storage"
	"github.com/trackd-io/trackd/pkg/storage/memory"
)

func appendAt(t *testing.T, store *memory.Store, ts time.Time, source, typ string) uint64 {
	t.Helper()
	id, err := store.Append(context.Background(), action.Record{
		Timestamp: ts,
		Source:    source,
		Type:      typ,
	})
	require.NoError(t, err)
	return id
}

func TestFold_CountsAllDimensions(t *testing.T) {
	store := memory.New()
	defer store.Close()
	engine := New(store, store)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 14, 10, 0, 0, time.UTC)
	appendAt(t, store, base, "browser", "click")
	appendAt(t, store, base.Add(time.Minute), "browser", "scroll")
	appendAt(t, store, base.Add(2*time.Hour), "editor", "save")

	maxID, err := store.MaxID(ctx)
	require.NoError(t, err)

	result, err := engine.Fold(ctx, maxID)
	require.NoError(t, err)
	require.Equal(t, 3, result.RecordsFolded)
	require.Equal(t, maxID, result.ToID)

	hourTotal, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Hour,
		Start:       time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		Dimension:   bucket.Total,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), hourTotal.Count)

	dayTotal, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Day,
		Start:       time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Dimension:   bucket.Total,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), dayTotal.Count)

	bySource, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Day,
		Start:       time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Dimension:   bucket.BySource,
		Value:       "browser",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), bySource.Count)

	byType, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Hour,
		Start:       time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		Dimension:   bucket.ByType,
		Value:       "click",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), byType.Count)
}

func TestFold_ResumesFromHighWaterMark(t *testing.T) {
	store := memory.New()
	defer store.Close()
	engine := New(store, store)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	appendAt(t, store, base, "browser", "click")
	appendAt(t, store, base, "browser", "click")

	_, err := engine.Fold(ctx, 2)
	require.NoError(t, err)

	// Folding the same range again must not double-count.
	result, err := engine.Fold(ctx, 2)
	require.NoError(t, err)
	require.Zero(t, result.RecordsFolded)

	appendAt(t, store, base, "browser", "click")
	result, err = engine.Fold(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordsFolded)

	b, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Hour,
		Start:       base,
		Dimension:   bucket.Total,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), b.Count)
}

func TestFold_StopsAtBound(t *testing.T) {
	store := memory.New()
	defer store.Close()
	engine := New(store, store)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendAt(t, store, base, "browser", "click")
	}

	result, err := engine.Fold(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, result.RecordsFolded)

	hwm, err := store.HighWaterMark(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), hwm)

	b, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Hour,
		Start:       base,
		Dimension:   bucket.Total,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), b.Count)
}

func TestFold_SkipsFinalizedBuckets(t *testing.T) {
	store := memory.New()
	defer store.Close()
	engine := New(store, store)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)
	appendAt(t, store, base, "browser", "click")
	_, err := engine.Fold(ctx, 1)
	require.NoError(t, err)

	// Lock every window that has fully elapsed.
	n, err := store.FinalizeBefore(ctx, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.NotZero(t, n)

	// A laggard record landing in a finalized window folds as a no-op.
	appendAt(t, store, base, "browser", "click")
	_, err = engine.Fold(ctx, 2)
	require.NoError(t, err)

	b, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Hour,
		Start:       time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		Dimension:   bucket.Total,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.Count)
	require.True(t, b.Final)
}

func TestRecompute_RefusesThinnedWindow(t *testing.T) {
	store := memory.New()
	defer store.Close()
	engine := New(store, store)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mark := &storage.RetentionMark{Cutoff: cutoff, SnapshotID: 10}

	_, err := engine.Recompute(ctx, cutoff.Add(-24*time.Hour), cutoff, mark)
	require.Error(t, err)
}

func TestRecompute_RebuildsWindow(t *testing.T) {
	store := memory.New()
	defer store.Close()
	engine := New(store, store)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	appendAt(t, store, base, "browser", "click")
	appendAt(t, store, base.Add(time.Minute), "browser", "click")

	n, err := engine.Recompute(ctx, base, base.Add(time.Hour), nil)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	b, err := store.GetBucket(ctx, bucket.Key{
		Granularity: bucket.Hour,
		Start:       base,
		Dimension:   bucket.Total,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), b.Count)
}
