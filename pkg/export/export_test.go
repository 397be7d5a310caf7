package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/ingest"
	"github.com/trackd-io/trackd/pkg/storage/memory"
)

func seedStore(t *testing.T, store *memory.Store, n int) time.Time {
	t.Helper()
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := store.Append(context.Background(), action.Record{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    "browser",
			Type:      "click",
			Context:   json.RawMessage(`{"i":1}`),
		})
		require.NoError(t, err)
	}
	return base
}

func TestExportToJSON_RoundTripsThroughImport(t *testing.T) {
	src := memory.New()
	defer src.Close()
	base := seedStore(t, src, 10)
	ctx := context.Background()

	var buf bytes.Buffer
	result, err := NewExporter(src).ExportToJSON(ctx, &buf, Options{
		Start: base.Add(-time.Hour),
		End:   base.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 10, result.ActionsExported)

	dst := memory.New()
	defer dst.Close()
	importer := NewImporter(dst, ingest.NewNormalizer(config.DefaultDenylist()), 3)

	imported, err := importer.ImportJSON(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, 10, imported.Imported)

	max, err := dst.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), max)
}

func TestImportJSON_AppliesDenylistAndValidation(t *testing.T) {
	store := memory.New()
	defer store.Close()
	importer := NewImporter(store, ingest.NewNormalizer(config.DefaultDenylist()), 100)

	snapshot := `{"actions":[
		{"source":"browser","action_type":"click","timestamp":1756684800},
		{"source":"browser","action_type":"mouse_move","timestamp":1756684801},
		{"source":"","action_type":"click","timestamp":1756684802}
	]}`

	result, err := importer.ImportJSON(context.Background(), strings.NewReader(snapshot))
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)
	require.Equal(t, 1, result.Dropped)
	require.Equal(t, 1, result.Rejected)
}

func TestExportToCSV_Columns(t *testing.T) {
	store := memory.New()
	defer store.Close()
	base := seedStore(t, store, 3)

	var buf bytes.Buffer
	_, err := NewExporter(store).ExportToCSV(context.Background(), &buf, Options{
		Start: base.Add(-time.Hour),
		End:   base.Add(time.Hour),
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, []string{"id", "timestamp", "source", "action_type", "context"}, rows[0])
	require.Equal(t, "browser", rows[1][2])
	require.Equal(t, "click", rows[1][3])
}

func TestHandleExport_Gzip(t *testing.T) {
	store := memory.New()
	defer store.Close()
	seedStore(t, store, 5)

	handler := NewHandler(NewExporter(store), NewImporter(store, ingest.NewNormalizer(config.DefaultDenylist()), 100))

	req := httptest.NewRequest(http.MethodGet,
		"/v1/export?gzip=1&start=2026-09-01T00:00:00Z&end=2026-09-02T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	handler.HandleExport(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	defer gz.Close()

	var snapshot struct {
		Actions []action.Record `json:"actions"`
	}
	require.NoError(t, json.NewDecoder(gz).Decode(&snapshot))
	require.Len(t, snapshot.Actions, 5)
}

func TestHandleExport_RejectsHugeWindow(t *testing.T) {
	store := memory.New()
	defer store.Close()
	handler := NewHandler(NewExporter(store), nil)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/export?start=2020-01-01T00:00:00Z&end=2026-01-01T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	handler.HandleExport(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleImport_GzipBody(t *testing.T) {
	store := memory.New()
	defer store.Close()
	handler := NewHandler(NewExporter(store), NewImporter(store, ingest.NewNormalizer(config.DefaultDenylist()), 100))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"actions":[{"source":"browser","action_type":"click","timestamp":1756684800}]}`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/import", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.HandleImport(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var result ImportResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 1, result.Imported)
}
