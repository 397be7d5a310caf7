package storage

import (
	"context"
	"errors"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/artifact"
	"github.com/trackd-io/trackd/pkg/bucket"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("storage: closed")
)

// Order controls result ordering for action queries.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// QueryRequest specifies which actions to retrieve.
type QueryRequest struct {
	// Time range (zero values are unbounded)
	Start time.Time
	End   time.Time

	// Filter by capture source (optional)
	Sources []string

	// Filter by action type (optional)
	Types []string

	// Limit number of results (0 = no limit)
	Limit int

	// Order by timestamp, newest first by default
	Order Order
}

// ActionStore is the append-mostly log of action records, the single source
// of truth for what happened. Appends must be safe under many concurrent
// callers; id assignment is the one globally consistent order.
type ActionStore interface {
	// Append assigns the next id, persists the record, and returns the id.
	Append(ctx context.Context, rec action.Record) (uint64, error)

	// AppendBatch appends records in order and returns their ids.
	AppendBatch(ctx context.Context, recs []action.Record) ([]uint64, error)

	// Query retrieves actions matching the request.
	Query(ctx context.Context, req QueryRequest) ([]action.Record, error)

	// MaxID returns the highest assigned id (0 when empty). Maintenance
	// cycles take it once at cycle start as their snapshot bound.
	MaxID(ctx context.Context) (uint64, error)

	// ScanRange streams records with from < id <= to in id order.
	ScanRange(ctx context.Context, from, to uint64, fn func(action.Record) error) error

	// ScanOlderThan streams records with timestamp < cutoff and
	// id <= maxID in one pass, in id order.
	ScanOlderThan(ctx context.Context, cutoff time.Time, maxID uint64, fn func(action.Record) error) error

	// DeleteOlderThan atomically deletes every record with
	// timestamp < cutoff and id <= snapshotID whose id is not in keepIDs,
	// returning the number deleted. Records appended after the snapshot was
	// taken are never touched by the pass.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, snapshotID uint64, keepIDs map[uint64]struct{}) (int, error)
}

// AggregateStore holds the permanent rollup buckets and the fold high-water
// mark. Buckets are only ever created and incremented, never deleted.
type AggregateStore interface {
	// HighWaterMark returns the highest action id folded into buckets.
	HighWaterMark(ctx context.Context) (uint64, error)

	// ApplyDeltas increments buckets and advances the high-water mark in
	// one atomic write. A crash between folds can therefore never
	// double-count or skip records.
	ApplyDeltas(ctx context.Context, deltas []bucket.Delta, hwm uint64) error

	// GetBucket returns a bucket, or ErrNotFound.
	GetBucket(ctx context.Context, key bucket.Key) (*bucket.Bucket, error)

	// ListBuckets returns buckets matching the query, ordered by window
	// start ascending.
	ListBuckets(ctx context.Context, q bucket.Query) ([]bucket.Bucket, error)

	// PutBuckets overwrites buckets. Used only by batch recomputation for
	// repair; callers must not overwrite finalized buckets.
	PutBuckets(ctx context.Context, buckets []bucket.Bucket) error

	// FinalizeBefore locks every bucket whose window ends at or before
	// cutoff, returning how many transitioned. Finalized buckets reject
	// further increments.
	FinalizeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ArtifactStore holds derived artifacts (insights, predictions, training
// runs). There is deliberately no delete operation: retention cannot reach
// artifacts even by bug, because the capability does not exist.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, a artifact.Artifact) (uint64, error)
	GetArtifact(ctx context.Context, id uint64) (*artifact.Artifact, error)
	ListArtifacts(ctx context.Context, kind artifact.Kind, limit int) ([]artifact.Artifact, error)
}

// RetentionMark records the bound of the last completed destructive pass.
// A record was already considered by sampling iff its timestamp is before
// Cutoff and its id is at or below SnapshotID; such records are never
// candidates again, which makes back-to-back cleanups a fixed point.
type RetentionMark struct {
	Cutoff     time.Time `json:"cutoff" cbor:"1,keyasint"`
	SnapshotID uint64    `json:"snapshot_id" cbor:"2,keyasint"`
}

// CycleState is the persisted in-flight marker for a maintenance cycle, so
// mutual exclusion survives process restarts.
type CycleState struct {
	Phase      string    `json:"phase" cbor:"1,keyasint"`
	StartedAt  time.Time `json:"started_at" cbor:"2,keyasint"`
	Cutoff     time.Time `json:"cutoff" cbor:"3,keyasint"`
	SnapshotID uint64    `json:"snapshot_id" cbor:"4,keyasint"`
}

// MaintenanceStore persists the small pieces of cleanup bookkeeping.
type MaintenanceStore interface {
	// RetentionMark returns the current mark, or nil if no destructive
	// pass has completed yet.
	RetentionMark(ctx context.Context) (*RetentionMark, error)
	SetRetentionMark(ctx context.Context, mark RetentionMark) error

	// CycleState returns the in-flight cycle record, or nil when idle.
	CycleState(ctx context.Context) (*CycleState, error)
	SetCycleState(ctx context.Context, state CycleState) error
	ClearCycleState(ctx context.Context) error
}

// Stats provides storage health and usage info.
type Stats struct {
	TotalActions   uint64    `json:"total_actions"`
	TotalBuckets   uint64    `json:"total_buckets"`
	TotalArtifacts uint64    `json:"total_artifacts"`
	MaxID          uint64    `json:"max_id"`
	SizeBytes      uint64    `json:"size_bytes"`
	OldestAction   time.Time `json:"oldest_action"`
	NewestAction   time.Time `json:"newest_action"`
}

// Store is the full storage backend contract.
// Implementations: memory (testing), badger (production), sqlite (legacy).
type Store interface {
	ActionStore
	AggregateStore
	ArtifactStore
	MaintenanceStore

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage.
	Close() error
}
