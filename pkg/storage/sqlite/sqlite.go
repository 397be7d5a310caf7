// Package sqlite implements storage.Store on SQLite via the pure-Go
// modernc.org/sqlite driver. It keeps the table layout older deployments
// already have on disk: an append-only actions table with REAL epoch-second
// timestamps, keyed rollups, and separate artifact tables that no deletion
// statement in this package ever names.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/artifact"
	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Store implements storage.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path, applies the performance
// pragmas, and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS actions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    REAL NOT NULL,
			source       TEXT NOT NULL,
			action_type  TEXT NOT NULL,
			context_json TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions(timestamp);

		CREATE TABLE IF NOT EXISTS aggregate_buckets (
			granularity  TEXT NOT NULL,
			bucket_start INTEGER NOT NULL,
			dimension    TEXT NOT NULL,
			value        TEXT NOT NULL DEFAULT '',
			count        INTEGER NOT NULL DEFAULT 0,
			final        INTEGER NOT NULL DEFAULT 0,
			updated_at   REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (granularity, bucket_start, dimension, value)
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			created_at REAL NOT NULL,
			payload    TEXT
		);

		CREATE TABLE IF NOT EXISTS maintenance (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Append(ctx context.Context, rec action.Record) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (timestamp, source, action_type, context_json)
		VALUES (?, ?, ?, ?)
	`, toEpoch(rec.Timestamp), rec.Source, rec.Type, contextText(rec.Context))
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (s *Store) AppendBatch(ctx context.Context, recs []action.Record) ([]uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actions (timestamp, source, action_type, context_json)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]uint64, len(recs))
	for i, rec := range recs {
		res, err := stmt.ExecContext(ctx, toEpoch(rec.Timestamp), rec.Source, rec.Type, contextText(rec.Context))
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert action: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids[i] = uint64(id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit batch: %w", err)
	}
	return ids, nil
}

func (s *Store) Query(ctx context.Context, req storage.QueryRequest) ([]action.Record, error) {
	query := `
		SELECT id, timestamp, source, action_type, context_json
		FROM actions
		WHERE 1=1
	`
	var args []any

	if !req.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, toEpoch(req.Start))
	}
	if !req.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, toEpoch(req.End))
	}
	if len(req.Sources) > 0 {
		query += " AND source IN (" + placeholders(len(req.Sources)) + ")"
		for _, v := range req.Sources {
			args = append(args, v)
		}
	}
	if len(req.Types) > 0 {
		query += " AND action_type IN (" + placeholders(len(req.Types)) + ")"
		for _, v := range req.Types {
			args = append(args, v)
		}
	}

	if req.Order == storage.OrderAsc {
		query += " ORDER BY timestamp ASC"
	} else {
		query += " ORDER BY timestamp DESC"
	}
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query actions: %w", err)
	}
	defer rows.Close()

	var results []action.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (s *Store) MaxID(ctx context.Context) (uint64, error) {
	var maxID uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM actions`).Scan(&maxID)
	return maxID, err
}

func (s *Store) ScanRange(ctx context.Context, from, to uint64, fn func(action.Record) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, source, action_type, context_json
		FROM actions
		WHERE id > ? AND id <= ?
		ORDER BY id ASC
	`, from, to)
	if err != nil {
		return fmt.Errorf("sqlite: scan range: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) ScanOlderThan(ctx context.Context, cutoff time.Time, maxID uint64, fn func(action.Record) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, source, action_type, context_json
		FROM actions
		WHERE timestamp < ? AND id <= ?
		ORDER BY id ASC
	`, toEpoch(cutoff), maxID)
	if err != nil {
		return fmt.Errorf("sqlite: scan candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteOlderThan runs the whole pass in one transaction. The keep list goes
// through a temp table so it is not bounded by the SQL variable limit.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, snapshotID uint64, keepIDs map[uint64]struct{}) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE keep_ids (id INTEGER PRIMARY KEY)`); err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO keep_ids (id) VALUES (?)`)
	if err != nil {
		return 0, err
	}
	for id := range keepIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			stmt.Close()
			return 0, err
		}
	}
	stmt.Close()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM actions
		WHERE timestamp < ? AND id <= ?
		AND id NOT IN (SELECT id FROM keep_ids)
	`, toEpoch(cutoff), snapshotID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete actions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE keep_ids`); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit delete: %w", err)
	}
	return int(deleted), nil
}

func (s *Store) HighWaterMark(ctx context.Context) (uint64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM maintenance WHERE key = 'hwm'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var hwm uint64
	if err := json.Unmarshal([]byte(value), &hwm); err != nil {
		return 0, fmt.Errorf("sqlite: decode hwm: %w", err)
	}
	return hwm, nil
}

func (s *Store) ApplyDeltas(ctx context.Context, deltas []bucket.Delta, hwm uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin fold: %w", err)
	}
	defer tx.Rollback()

	// Finalized buckets win the conflict: the WHERE clause makes the
	// upsert a no-op on locked rows.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregate_buckets (granularity, bucket_start, dimension, value, count, final, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (granularity, bucket_start, dimension, value)
		DO UPDATE SET count = count + excluded.count, updated_at = excluded.updated_at
		WHERE final = 0
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := toEpoch(time.Now())
	for _, d := range deltas {
		_, err := stmt.ExecContext(ctx,
			string(d.Key.Granularity), d.Key.Start.Unix(), string(d.Key.Dimension), d.Key.Value,
			d.Count, now)
		if err != nil {
			return fmt.Errorf("sqlite: upsert bucket: %w", err)
		}
	}

	if err := setMeta(ctx, tx, "hwm", hwm); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit fold: %w", err)
	}
	return nil
}

func (s *Store) GetBucket(ctx context.Context, key bucket.Key) (*bucket.Bucket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count, final, updated_at FROM aggregate_buckets
		WHERE granularity = ? AND bucket_start = ? AND dimension = ? AND value = ?
	`, string(key.Granularity), key.Start.Unix(), string(key.Dimension), key.Value)

	b := bucket.Bucket{Key: key}
	var final int
	var updated float64
	err := row.Scan(&b.Count, &final, &updated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Final = final != 0
	b.UpdatedAt = fromEpoch(updated)
	return &b, nil
}

func (s *Store) ListBuckets(ctx context.Context, q bucket.Query) ([]bucket.Bucket, error) {
	query := `
		SELECT granularity, bucket_start, dimension, value, count, final, updated_at
		FROM aggregate_buckets
		WHERE 1=1
	`
	var args []any
	if q.Granularity != "" {
		query += " AND granularity = ?"
		args = append(args, string(q.Granularity))
	}
	if q.Dimension != "" {
		query += " AND dimension = ?"
		args = append(args, string(q.Dimension))
	}
	if !q.Start.IsZero() {
		query += " AND bucket_start >= ?"
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += " AND bucket_start < ?"
		args = append(args, q.End.Unix())
	}
	query += " ORDER BY bucket_start ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list buckets: %w", err)
	}
	defer rows.Close()

	var results []bucket.Bucket
	for rows.Next() {
		var (
			b       bucket.Bucket
			gran    string
			start   int64
			dim     string
			final   int
			updated float64
		)
		if err := rows.Scan(&gran, &start, &dim, &b.Key.Value, &b.Count, &final, &updated); err != nil {
			return nil, err
		}
		b.Key.Granularity = bucket.Granularity(gran)
		b.Key.Start = time.Unix(start, 0).UTC()
		b.Key.Dimension = bucket.Dimension(dim)
		b.Final = final != 0
		b.UpdatedAt = fromEpoch(updated)
		results = append(results, b)
	}
	return results, rows.Err()
}

func (s *Store) PutBuckets(ctx context.Context, buckets []bucket.Bucket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO aggregate_buckets (granularity, bucket_start, dimension, value, count, final, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := toEpoch(time.Now())
	for _, b := range buckets {
		final := 0
		if b.Final {
			final = 1
		}
		_, err := stmt.ExecContext(ctx,
			string(b.Key.Granularity), b.Key.Start.Unix(), string(b.Key.Dimension), b.Key.Value,
			b.Count, final, now)
		if err != nil {
			return fmt.Errorf("sqlite: put bucket: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) FinalizeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// A bucket's window has elapsed when start + width <= cutoff.
	res, err := s.db.ExecContext(ctx, `
		UPDATE aggregate_buckets SET final = 1
		WHERE final = 0
		AND ((granularity = 'hour' AND bucket_start + 3600 <= ?)
		  OR (granularity = 'day' AND bucket_start + 86400 <= ?))
	`, cutoff.Unix(), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: finalize buckets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) PutArtifact(ctx context.Context, a artifact.Artifact) (uint64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (kind, created_at, payload) VALUES (?, ?, ?)
	`, string(a.Kind), toEpoch(a.CreatedAt), contextText(a.Payload))
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (s *Store) GetArtifact(ctx context.Context, id uint64) (*artifact.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, created_at, payload FROM artifacts WHERE id = ?
	`, id)

	var (
		a       artifact.Artifact
		kind    string
		created float64
		payload string
	)
	err := row.Scan(&a.ID, &kind, &created, &payload)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Kind = artifact.Kind(kind)
	a.CreatedAt = fromEpoch(created)
	a.Payload = json.RawMessage(payload)
	return &a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, kind artifact.Kind, limit int) ([]artifact.Artifact, error) {
	query := `SELECT id, kind, created_at, payload FROM artifacts`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list artifacts: %w", err)
	}
	defer rows.Close()

	var results []artifact.Artifact
	for rows.Next() {
		var (
			a       artifact.Artifact
			k       string
			created float64
			payload string
		)
		if err := rows.Scan(&a.ID, &k, &created, &payload); err != nil {
			return nil, err
		}
		a.Kind = artifact.Kind(k)
		a.CreatedAt = fromEpoch(created)
		a.Payload = json.RawMessage(payload)
		results = append(results, a)
	}
	return results, rows.Err()
}

func (s *Store) RetentionMark(ctx context.Context) (*storage.RetentionMark, error) {
	var mark storage.RetentionMark
	ok, err := getMeta(ctx, s.db, "retention_mark", &mark)
	if err != nil || !ok {
		return nil, err
	}
	return &mark, nil
}

func (s *Store) SetRetentionMark(ctx context.Context, mark storage.RetentionMark) error {
	return setMeta(ctx, s.db, "retention_mark", mark)
}

func (s *Store) CycleState(ctx context.Context) (*storage.CycleState, error) {
	var state storage.CycleState
	ok, err := getMeta(ctx, s.db, "cycle_state", &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (s *Store) SetCycleState(ctx context.Context, state storage.CycleState) error {
	return setMeta(ctx, s.db, "cycle_state", state)
}

func (s *Store) ClearCycleState(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM maintenance WHERE key = 'cycle_state'`)
	return err
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(id), 0), COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0)
		FROM actions
	`)
	var oldest, newest float64
	if err := row.Scan(&stats.TotalActions, &stats.MaxID, &oldest, &newest); err != nil {
		return nil, err
	}
	if stats.TotalActions > 0 {
		stats.OldestAction = fromEpoch(oldest)
		stats.NewestAction = fromEpoch(newest)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM aggregate_buckets`).Scan(&stats.TotalBuckets); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&stats.TotalArtifacts); err != nil {
		return nil, err
	}

	var pageCount, pageSize uint64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
			stats.SizeBytes = pageCount * pageSize
		}
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func setMeta(ctx context.Context, db execer, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO maintenance (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, string(value))
	return err
}

func getMeta(ctx context.Context, db querier, key string, v any) (bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM maintenance WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("sqlite: decode %s: %w", key, err)
	}
	return true, nil
}

func scanRecord(rows *sql.Rows) (action.Record, error) {
	var (
		rec     action.Record
		ts      float64
		context string
	)
	if err := rows.Scan(&rec.ID, &ts, &rec.Source, &rec.Type, &context); err != nil {
		return rec, err
	}
	rec.Timestamp = fromEpoch(ts)
	if context != "" && context != "{}" {
		rec.Context = json.RawMessage(context)
	}
	return rec, nil
}

func contextText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func placeholders(n int) string {
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}

// toEpoch converts to the REAL seconds representation the legacy schema
// uses, with microsecond precision.
func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(sec float64) time.Time {
	// Round, don't truncate: REAL seconds are not exact in binary
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}
