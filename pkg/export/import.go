package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/ingest"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Importer bulk-loads a previously exported snapshot. Every record goes
// back through normalization, so a snapshot from a looser deployment still
// obeys this one's denylist and validation. Ids are never restored: the
// store assigns fresh ones, keeping id order consistent with insertion
// order for the aggregation high-water mark.
type Importer struct {
	actions    storage.ActionStore
	normalizer *ingest.Normalizer
	batchSize  int
}

// NewImporter creates an importer.
func NewImporter(actions storage.ActionStore, normalizer *ingest.Normalizer, batchSize int) *Importer {
	if batchSize < 1 {
		batchSize = 500
	}
	return &Importer{actions: actions, normalizer: normalizer, batchSize: batchSize}
}

// ImportResult summarizes one import.
type ImportResult struct {
	Imported int `json:"imported"`
	Dropped  int `json:"dropped"`
	Rejected int `json:"rejected"`
}

// snapshotEnvelope mirrors the JSON export shape. Record ids present in the
// snapshot are ignored.
type snapshotEnvelope struct {
	Actions []snapshotRecord `json:"actions"`
}

type snapshotRecord struct {
	Timestamp ingest.EventTime `json:"timestamp"`
	Source    string           `json:"source"`
	Type      string           `json:"action_type"`
	Context   json.RawMessage  `json:"context,omitempty"`
}

// ImportJSON loads a JSON snapshot from r.
func (i *Importer) ImportJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var snapshot snapshotEnvelope
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	result := &ImportResult{}
	batch := make([]action.Record, 0, i.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := i.actions.AppendBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to append batch: %w", err)
		}
		result.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, sr := range snapshot.Actions {
		rec, err := i.normalizer.Normalize(ingest.RawEvent{
			Source:    sr.Source,
			Type:      sr.Type,
			Timestamp: sr.Timestamp,
			Context:   sr.Context,
		})
		switch {
		case err == nil:
			batch = append(batch, rec)
			if len(batch) == i.batchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}
		case errors.Is(err, ingest.ErrDenied):
			result.Dropped++
		default:
			result.Rejected++
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}
