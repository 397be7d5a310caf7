// Package badger implements storage.Store using BadgerDB (LSM tree).
//
// Key layout, one namespace per concern so deletion code can only ever see
// action rows:
//
//	a! + id (8 bytes, big-endian)                      action records
//	b! + granularity + start + dimension + hash(value)  aggregate buckets
//	r! + id (8 bytes, big-endian)                      retained artifacts
//	m! + name                                          maintenance metadata
package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/artifact"
	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/storage"
	"github.com/trackd-io/trackd/pkg/storage/seal"
)

var (
	prefixAction   = []byte("a!")
	prefixBucket   = []byte("b!")
	prefixArtifact = []byte("r!")

	keyHWM        = []byte("m!hwm")
	keyMark       = []byte("m!mark")
	keyCycle      = []byte("m!cycle")
	seqActions    = []byte("m!seq_actions")
	seqArtifacts  = []byte("m!seq_artifacts")
	seqBandwidth  = uint64(128)
)

// Store implements storage.Store on BadgerDB.
type Store struct {
	db        *badger.DB
	actionSeq *badger.Sequence
	artSeq    *badger.Sequence
	sealer    *seal.Sealer

	// appendMu is held across the id draw and the commit, so ids become
	// visible in assignment order and MaxID always bounds a fully
	// committed prefix.
	appendMu sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly
	// defaults, 48 MB total)
	MaxMemoryMB int64

	// Sealer, when set, seals context payloads at rest
	Sealer *seal.Sealer
}

// New creates a BadgerDB storage backend.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits. BadgerDB's defaults assume a server;
	// capture daemons run on laptops.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	} else {
		// 16 MB memtable is the floor for decent performance
		memTableSize = 16 * 1024 * 1024
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // badger refuses fewer than 2
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	actionSeq, err := db.GetSequence(seqActions, seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open action sequence: %w", err)
	}
	artSeq, err := db.GetSequence(seqArtifacts, seqBandwidth)
	if err != nil {
		actionSeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open artifact sequence: %w", err)
	}

	return &Store{db: db, actionSeq: actionSeq, artSeq: artSeq, sealer: cfg.Sealer}, nil
}

// Append assigns the next id and persists the record.
func (s *Store) Append(ctx context.Context, rec action.Record) (uint64, error) {
	ids, err := s.AppendBatch(ctx, []action.Record{rec})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AppendBatch persists records in one transaction. Ids come from a badger
// sequence, so concurrent batches never collide; the sequence may skip
// ranges after a restart, which keeps ids strictly increasing regardless.
func (s *Store) AppendBatch(ctx context.Context, recs []action.Record) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	ids := make([]uint64, len(recs))
	for i := range recs {
		n, err := s.actionSeq.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to assign id: %w", err)
		}
		ids[i] = n + 1 // sequences start at 0, ids at 1
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i, rec := range recs {
			rec.ID = ids[i]
			value, err := s.encodeRecord(rec)
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			if err := txn.Set(actionKey(rec.ID), value); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Query retrieves actions matching the request.
func (s *Store) Query(ctx context.Context, req storage.QueryRequest) ([]action.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []action.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAction
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			err := it.Item().Value(func(val []byte) error {
				rec, err := s.decodeRecord(val)
				if err != nil {
					return err
				}
				if matchesQuery(rec, req) {
					results = append(results, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Timestamp order is not id order, so sort after the scan.
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

// MaxID returns the highest id present in the action namespace.
func (s *Store) MaxID(ctx context.Context) (uint64, error) {
	var maxID uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAction
		opts.Reverse = true
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the end of the prefix range.
		it.Seek(append(append([]byte{}, prefixAction...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if it.ValidForPrefix(prefixAction) {
			maxID = actionID(it.Item().Key())
		}
		return nil
	})
	return maxID, err
}

// ScanRange streams records with from < id <= to in id order.
func (s *Store) ScanRange(ctx context.Context, from, to uint64, fn func(action.Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAction
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(actionKey(from + 1)); it.ValidForPrefix(prefixAction); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			if actionID(it.Item().Key()) > to {
				break
			}
			var rec action.Record
			err := it.Item().Value(func(val []byte) error {
				var derr error
				rec, derr = s.decodeRecord(val)
				return derr
			})
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanOlderThan streams deletion candidates in one pass.
func (s *Store) ScanOlderThan(ctx context.Context, cutoff time.Time, maxID uint64, fn func(action.Record) error) error {
	return s.ScanRange(ctx, 0, maxID, func(rec action.Record) error {
		if !rec.Timestamp.Before(cutoff) {
			return nil
		}
		return fn(rec)
	})
}

// DeleteOlderThan removes old records in chunks of config.DeleteBatchSize,
// each chunk one transaction; a whole backlog in one transaction would hit
// badger's transaction size cap. A pass that fails mid-way is safe: the
// retention mark only advances after the pass, so remaining candidates are
// candidates again next cycle. The id bound means records appended while the
// pass runs are structurally out of reach.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, snapshotID uint64, keepIDs map[uint64]struct{}) (int, error) {
	deleted := 0
	var resumeID uint64

	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		var keysToDelete [][]byte
		done := false
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefixAction

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Seek(actionKey(resumeID + 1)); it.ValidForPrefix(prefixAction); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				item := it.Item()
				id := actionID(item.Key())
				if id > snapshotID {
					done = true
					return nil
				}
				if len(keysToDelete) == config.DeleteBatchSize {
					// Chunk full; the next pass resumes after resumeID
					return nil
				}
				resumeID = id
				if _, keep := keepIDs[id]; keep {
					continue
				}

				var ts time.Time
				err := item.Value(func(val []byte) error {
					rec, derr := s.decodeRecord(val)
					if derr != nil {
						return derr
					}
					ts = rec.Timestamp
					return nil
				})
				if err != nil {
					return err
				}
				if !ts.Before(cutoff) {
					continue
				}
				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
			}
			done = true
			return nil
		})
		if err != nil {
			return deleted, err
		}

		if len(keysToDelete) > 0 {
			err := s.db.Update(func(txn *badger.Txn) error {
				for _, key := range keysToDelete {
					if err := txn.Delete(key); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return deleted, fmt.Errorf("failed to delete chunk: %w", err)
			}
			deleted += len(keysToDelete)
		}

		if done {
			return deleted, nil
		}
	}
}

// HighWaterMark returns the highest action id folded into buckets.
func (s *Store) HighWaterMark(ctx context.Context) (uint64, error) {
	var hwm uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHWM)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hwm = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return hwm, err
}

// ApplyDeltas increments buckets and advances the high-water mark in a
// single transaction.
func (s *Store) ApplyDeltas(ctx context.Context, deltas []bucket.Delta, hwm uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, d := range deltas {
			key := bucketKey(d.Key)
			b := bucket.Bucket{Key: d.Key}

			item, err := txn.Get(key)
			if err == nil {
				if verr := item.Value(func(val []byte) error {
					return cbor.Unmarshal(val, &b)
				}); verr != nil {
					return verr
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			if b.Final {
				continue
			}
			b.Count += d.Count
			b.UpdatedAt = time.Now().UTC()

			value, err := cbor.Marshal(b)
			if err != nil {
				return fmt.Errorf("failed to encode bucket: %w", err)
			}
			if err := txn.Set(key, value); err != nil {
				return err
			}
		}

		var hwmBytes [8]byte
		binary.BigEndian.PutUint64(hwmBytes[:], hwm)
		return txn.Set(keyHWM, hwmBytes[:])
	})
}

// GetBucket returns a bucket, or storage.ErrNotFound.
func (s *Store) GetBucket(ctx context.Context, key bucket.Key) (*bucket.Bucket, error) {
	var b bucket.Bucket
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bucketKey(key))
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &b)
		})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBuckets returns buckets matching the query, window start ascending.
func (s *Store) ListBuckets(ctx context.Context, q bucket.Query) ([]bucket.Bucket, error) {
	var results []bucket.Bucket
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixBucket

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefixBucket); it.Next() {
			var b bucket.Bucket
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &b)
			})
			if err != nil {
				return err
			}
			if q.Matches(b) {
				results = append(results, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key.Start.Before(results[j].Key.Start)
	})
	return results, nil
}

// PutBuckets overwrites buckets (batch recomputation only).
func (s *Store) PutBuckets(ctx context.Context, buckets []bucket.Bucket) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, b := range buckets {
			value, err := cbor.Marshal(b)
			if err != nil {
				return fmt.Errorf("failed to encode bucket: %w", err)
			}
			if err := txn.Set(bucketKey(b.Key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// FinalizeBefore locks buckets whose window has fully elapsed.
func (s *Store) FinalizeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	finalized := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixBucket

		it := txn.NewIterator(opts)
		defer it.Close()

		type update struct {
			key   []byte
			value []byte
		}
		var updates []update

		for it.Rewind(); it.ValidForPrefix(prefixBucket); it.Next() {
			var b bucket.Bucket
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &b)
			})
			if err != nil {
				return err
			}
			if b.Final || b.Key.End().After(cutoff) {
				continue
			}
			b.Final = true
			value, err := cbor.Marshal(b)
			if err != nil {
				return err
			}
			updates = append(updates, update{key: it.Item().KeyCopy(nil), value: value})
		}

		for _, u := range updates {
			if err := txn.Set(u.key, u.value); err != nil {
				return err
			}
		}
		finalized = len(updates)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return finalized, nil
}

// PutArtifact stores a derived artifact. There is no matching delete.
func (s *Store) PutArtifact(ctx context.Context, a artifact.Artifact) (uint64, error) {
	n, err := s.artSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to assign artifact id: %w", err)
	}
	a.ID = n + 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	value, err := cbor.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("failed to encode artifact: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(a.ID), value)
	})
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

// GetArtifact returns an artifact, or storage.ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, id uint64) (*artifact.Artifact, error) {
	var a artifact.Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(id))
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &a)
		})
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListArtifacts returns artifacts in id order, optionally filtered by kind.
func (s *Store) ListArtifacts(ctx context.Context, kind artifact.Kind, limit int) ([]artifact.Artifact, error) {
	var results []artifact.Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixArtifact

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefixArtifact); it.Next() {
			var a artifact.Artifact
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			if kind != "" && a.Kind != kind {
				continue
			}
			results = append(results, a)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RetentionMark returns the persisted mark, or nil before the first
// destructive pass.
func (s *Store) RetentionMark(ctx context.Context) (*storage.RetentionMark, error) {
	var mark *storage.RetentionMark
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMark)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var m storage.RetentionMark
			if uerr := cbor.Unmarshal(val, &m); uerr != nil {
				return uerr
			}
			mark = &m
			return nil
		})
	})
	return mark, err
}

func (s *Store) SetRetentionMark(ctx context.Context, mark storage.RetentionMark) error {
	value, err := cbor.Marshal(mark)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMark, value)
	})
}

// CycleState returns the in-flight cycle record, or nil when idle.
func (s *Store) CycleState(ctx context.Context) (*storage.CycleState, error) {
	var state *storage.CycleState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCycle)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var cs storage.CycleState
			if uerr := cbor.Unmarshal(val, &cs); uerr != nil {
				return uerr
			}
			state = &cs
			return nil
		})
	})
	return state, err
}

func (s *Store) SetCycleState(ctx context.Context, state storage.CycleState) error {
	value, err := cbor.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyCycle, value)
	})
}

func (s *Store) ClearCycleState(ctx context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(keyCycle)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Stats returns storage statistics.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAction

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.ValidForPrefix(prefixAction); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			stats.TotalActions++
			id := actionID(it.Item().Key())
			if id > stats.MaxID {
				stats.MaxID = id
			}
			err := it.Item().Value(func(val []byte) error {
				rec, derr := s.decodeRecord(val)
				if derr != nil {
					return derr
				}
				if stats.OldestAction.IsZero() || rec.Timestamp.Before(stats.OldestAction) {
					stats.OldestAction = rec.Timestamp
				}
				if rec.Timestamp.After(stats.NewestAction) {
					stats.NewestAction = rec.Timestamp
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		stats.TotalBuckets = countPrefix(txn, prefixBucket)
		stats.TotalArtifacts = countPrefix(txn, prefixArtifact)
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk space
// left behind by retention deletes.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close releases id sequences and shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	if s.actionSeq != nil {
		s.actionSeq.Release()
	}
	if s.artSeq != nil {
		s.artSeq.Release()
	}
	return s.db.Close()
}

func countPrefix(txn *badger.Txn, prefix []byte) uint64 {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var count uint64
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		count++
	}
	return count
}

// actionKey builds a sortable key: prefix + big-endian id, so iteration
// order is id order.
func actionKey(id uint64) []byte {
	key := make([]byte, 10)
	copy(key, prefixAction)
	binary.BigEndian.PutUint64(key[2:], id)
	return key
}

func actionID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[2:])
}

func artifactKey(id uint64) []byte {
	key := make([]byte, 10)
	copy(key, prefixArtifact)
	binary.BigEndian.PutUint64(key[2:], id)
	return key
}

// bucketKey hashes the dimension value to a fixed width. The full key is
// kept in the stored value, so the hash only has to be collision-resistant
// enough for key lookup.
func bucketKey(k bucket.Key) []byte {
	key := make([]byte, 0, 2+1+8+1+8)
	key = append(key, prefixBucket...)
	switch k.Granularity {
	case bucket.Hour:
		key = append(key, 'h')
	case bucket.Day:
		key = append(key, 'd')
	default:
		key = append(key, '?')
	}
	var start [8]byte
	binary.BigEndian.PutUint64(start[:], uint64(k.Start.Unix()))
	key = append(key, start[:]...)
	switch k.Dimension {
	case bucket.BySource:
		key = append(key, 's')
	case bucket.ByType:
		key = append(key, 't')
	default:
		key = append(key, '*')
	}
	var hash [8]byte
	binary.BigEndian.PutUint64(hash[:], xxhash.Sum64String(k.Value))
	key = append(key, hash[:]...)
	return key
}

// encodeRecord serializes a record, sealing the context payload when a
// sealer is configured.
func (s *Store) encodeRecord(rec action.Record) ([]byte, error) {
	if s.sealer != nil && len(rec.Context) > 0 {
		rec.Context = s.sealer.Seal(rec.Context)
	}
	return cbor.Marshal(rec)
}

func (s *Store) decodeRecord(val []byte) (action.Record, error) {
	var rec action.Record
	if err := cbor.Unmarshal(val, &rec); err != nil {
		return rec, err
	}
	if s.sealer != nil && len(rec.Context) > 0 {
		plain, err := s.sealer.Open(rec.Context)
		if err != nil {
			return rec, fmt.Errorf("failed to open sealed context: %w", err)
		}
		rec.Context = plain
	}
	return rec, nil
}

func matchesQuery(rec action.Record, req storage.QueryRequest) bool {
	if !req.Start.IsZero() && rec.Timestamp.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && rec.Timestamp.After(req.End) {
		return false
	}
	if len(req.Sources) > 0 && !containsString(req.Sources, rec.Source) {
		return false
	}
	if len(req.Types) > 0 && !containsString(req.Types, rec.Type) {
		return false
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
