package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trackd-io/trackd/pkg/storage"
	"github.com/trackd-io/trackd/pkg/storage/memory"
)

func TestHandleCleanup_DefaultsToDryRun(t *testing.T) {
	store := memory.New()
	defer store.Close()
	handler := NewHandler(newTestOrchestrator(store))

	seedAged(t, store, 60*24*time.Hour, 20)

	req := httptest.NewRequest(http.MethodPost, "/v1/cleanup", nil)
	rr := httptest.NewRecorder()
	handler.HandleCleanup(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.True(t, report.DryRun)
	require.Equal(t, 20, report.OldActions)

	stats, err := store.Stats(req.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(20), stats.TotalActions)
}

func TestHandleCleanup_ExplicitDestructiveRun(t *testing.T) {
	store := memory.New()
	defer store.Close()
	handler := NewHandler(newTestOrchestrator(store))

	seedAged(t, store, 60*24*time.Hour, 20)

	body := []byte(`{"dry_run": false, "sample_rate": 0}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/cleanup", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleCleanup(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.False(t, report.DryRun)
	require.Equal(t, 20, report.Deleted)

	stats, err := store.Stats(req.Context())
	require.NoError(t, err)
	require.Zero(t, stats.TotalActions)
}

func TestHandleCleanup_BadRequest(t *testing.T) {
	store := memory.New()
	defer store.Close()
	handler := NewHandler(newTestOrchestrator(store))

	for _, body := range []string{
		`not json`,
		`{"keep_days": 0}`,
		`{"sample_rate": 2}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/cleanup", bytes.NewReader([]byte(body)))
		rr := httptest.NewRecorder()
		handler.HandleCleanup(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, "body %s", body)
	}
}

func TestHandleCleanup_ConflictWhenCycleInFlight(t *testing.T) {
	store := memory.New()
	defer store.Close()
	handler := NewHandler(newTestOrchestrator(store))

	err := store.SetCycleState(context.Background(),
		storage.CycleState{Phase: "delete", StartedAt: testNow.Add(-time.Minute)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/cleanup",
		bytes.NewReader([]byte(`{"dry_run": false}`)))
	rr := httptest.NewRecorder()
	handler.HandleCleanup(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
}
