// Package memory implements storage.Store in process memory. Data is lost
// on restart. Useful for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/artifact"
	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Store keeps everything in mutex-guarded maps and slices.
type Store struct {
	mu sync.RWMutex

	actions    []action.Record // id order
	nextID     uint64
	buckets    map[string]*bucket.Bucket
	artifacts  []artifact.Artifact
	nextArtID  uint64
	hwm        uint64
	mark       *storage.RetentionMark
	cycle      *storage.CycleState
	closed     bool
}

// New creates an in-memory storage backend.
func New() *Store {
	return &Store{
		actions: make([]action.Record, 0, 10000),
		buckets: make(map[string]*bucket.Bucket),
	}
}

func (s *Store) Append(ctx context.Context, rec action.Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, storage.ErrClosed
	}
	s.nextID++
	rec.ID = s.nextID
	s.actions = append(s.actions, rec)
	return rec.ID, nil
}

func (s *Store) AppendBatch(ctx context.Context, recs []action.Record) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	ids := make([]uint64, len(recs))
	for i, rec := range recs {
		s.nextID++
		rec.ID = s.nextID
		s.actions = append(s.actions, rec)
		ids[i] = rec.ID
	}
	return ids, nil
}

func (s *Store) Query(ctx context.Context, req storage.QueryRequest) ([]action.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []action.Record
	for _, rec := range s.actions {
		if !matches(rec, req) {
			continue
		}
		results = append(results, rec)
	}

	if req.Order == storage.OrderAsc {
		sort.Slice(results, func(i, j int) bool {
			return results[i].Timestamp.Before(results[j].Timestamp)
		})
	} else {
		sort.Slice(results, func(i, j int) bool {
			return results[i].Timestamp.After(results[j].Timestamp)
		})
	}

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

func matches(rec action.Record, req storage.QueryRequest) bool {
	if !req.Start.IsZero() && rec.Timestamp.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && rec.Timestamp.After(req.End) {
		return false
	}
	if len(req.Sources) > 0 && !contains(req.Sources, rec.Source) {
		return false
	}
	if len(req.Types) > 0 && !contains(req.Types, rec.Type) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Store) MaxID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID, nil
}

func (s *Store) ScanRange(ctx context.Context, from, to uint64, fn func(action.Record) error) error {
	s.mu.RLock()
	recs := make([]action.Record, 0)
	for _, rec := range s.actions {
		if rec.ID > from && rec.ID <= to {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ScanOlderThan(ctx context.Context, cutoff time.Time, maxID uint64, fn func(action.Record) error) error {
	s.mu.RLock()
	recs := make([]action.Record, 0)
	for _, rec := range s.actions {
		if rec.ID <= maxID && rec.Timestamp.Before(cutoff) {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, snapshotID uint64, keepIDs map[uint64]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, storage.ErrClosed
	}

	kept := make([]action.Record, 0, len(s.actions))
	deleted := 0
	for _, rec := range s.actions {
		if rec.ID <= snapshotID && rec.Timestamp.Before(cutoff) {
			if _, keep := keepIDs[rec.ID]; !keep {
				deleted++
				continue
			}
		}
		kept = append(kept, rec)
	}
	s.actions = kept
	return deleted, nil
}

func (s *Store) HighWaterMark(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hwm, nil
}

func (s *Store) ApplyDeltas(ctx context.Context, deltas []bucket.Delta, hwm uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	for _, d := range deltas {
		key := d.Key.String()
		b, ok := s.buckets[key]
		if !ok {
			b = &bucket.Bucket{Key: d.Key}
			s.buckets[key] = b
		}
		if b.Final {
			continue
		}
		b.Count += d.Count
		b.UpdatedAt = time.Now().UTC()
	}
	s.hwm = hwm
	return nil
}

func (s *Store) GetBucket(ctx context.Context, key bucket.Key) (*bucket.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[key.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBuckets(ctx context.Context, q bucket.Query) ([]bucket.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []bucket.Bucket
	for _, b := range s.buckets {
		if q.Matches(*b) {
			results = append(results, *b)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key.Start.Before(results[j].Key.Start)
	})
	return results, nil
}

func (s *Store) PutBuckets(ctx context.Context, buckets []bucket.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	for _, b := range buckets {
		cp := b
		s.buckets[b.Key.String()] = &cp
	}
	return nil
}

func (s *Store) FinalizeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalized := 0
	for _, b := range s.buckets {
		if !b.Final && !b.Key.End().After(cutoff) {
			b.Final = true
			finalized++
		}
	}
	return finalized, nil
}

func (s *Store) PutArtifact(ctx context.Context, a artifact.Artifact) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, storage.ErrClosed
	}
	s.nextArtID++
	a.ID = s.nextArtID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.artifacts = append(s.artifacts, a)
	return a.ID, nil
}

func (s *Store) GetArtifact(ctx context.Context, id uint64) (*artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.artifacts {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListArtifacts(ctx context.Context, kind artifact.Kind, limit int) ([]artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []artifact.Artifact
	for _, a := range s.artifacts {
		if kind != "" && a.Kind != kind {
			continue
		}
		results = append(results, a)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *Store) RetentionMark(ctx context.Context) (*storage.RetentionMark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.mark == nil {
		return nil, nil
	}
	cp := *s.mark
	return &cp, nil
}

func (s *Store) SetRetentionMark(ctx context.Context, mark storage.RetentionMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mark = &mark
	return nil
}

func (s *Store) CycleState(ctx context.Context) (*storage.CycleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cycle == nil {
		return nil, nil
	}
	cp := *s.cycle
	return &cp, nil
}

func (s *Store) SetCycleState(ctx context.Context, state storage.CycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle = &state
	return nil
}

func (s *Store) ClearCycleState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle = nil
	return nil
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalActions:   uint64(len(s.actions)),
		TotalBuckets:   uint64(len(s.buckets)),
		TotalArtifacts: uint64(len(s.artifacts)),
		MaxID:          s.nextID,
	}

	for _, rec := range s.actions {
		if stats.OldestAction.IsZero() || rec.Timestamp.Before(stats.OldestAction) {
			stats.OldestAction = rec.Timestamp
		}
		if rec.Timestamp.After(stats.NewestAction) {
			stats.NewestAction = rec.Timestamp
		}
	}

	// Rough size estimate (each record ~150 bytes)
	stats.SizeBytes = uint64(len(s.actions)) * 150
	return stats, nil
}

// Close marks the store closed. Subsequent writes fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
