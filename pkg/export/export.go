// Package export moves action records across system boundaries: snapshots
// out for analysis or backup, and bulk loads in from a previous snapshot or
// a legacy capture log.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Exporter writes action snapshots to various formats.
type Exporter struct {
	actions storage.ActionStore
}

// NewExporter creates an exporter.
func NewExporter(actions storage.ActionStore) *Exporter {
	return &Exporter{actions: actions}
}

// Options configures one export.
type Options struct {
	// Time range to export
	Start time.Time
	End   time.Time

	// Filter by sources and action types (nil = all)
	Sources []string
	Types   []string

	// Format: "json" or "csv"
	Format string
}

// Result contains stats about the export.
type Result struct {
	ActionsExported int       `json:"actions_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

func (e *Exporter) query(ctx context.Context, opts Options) ([]action.Record, error) {
	records, err := e.actions.Query(ctx, storage.QueryRequest{
		Start:   opts.Start,
		End:     opts.End,
		Sources: opts.Sources,
		Types:   opts.Types,
		Limit:   0, // no limit, export everything
		Order:   storage.OrderAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	return records, nil
}

// ExportToJSON exports actions as JSON to the given writer.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	exportData := struct {
		Metadata struct {
			ExportedAt  time.Time `json:"exported_at"`
			StartTime   time.Time `json:"start_time"`
			EndTime     time.Time `json:"end_time"`
			ActionCount int       `json:"action_count"`
			Version     string    `json:"version"`
		} `json:"metadata"`
		Actions []action.Record `json:"actions"`
	}{
		Actions: records,
	}

	exportData.Metadata.ExportedAt = time.Now().UTC()
	exportData.Metadata.StartTime = opts.Start
	exportData.Metadata.EndTime = opts.End
	exportData.Metadata.ActionCount = len(records)
	exportData.Metadata.Version = "1.0"

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &Result{
		ActionsExported: len(records),
		TimeRange:       fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:          "json",
		ExportedAt:      exportData.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports actions as CSV to the given writer. The context
// payload is carried as one raw JSON column.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"id", "timestamp", "source", "action_type", "context"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.ID, 10),
			rec.Timestamp.Format(time.RFC3339Nano),
			rec.Source,
			rec.Type,
			string(rec.Context),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return &Result{
		ActionsExported: len(records),
		TimeRange:       fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:          "csv",
		ExportedAt:      time.Now().UTC(),
	}, nil
}
