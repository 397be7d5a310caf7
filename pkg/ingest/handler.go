package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/httpx"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Handler handles action ingestion and querying.
type Handler struct {
	store      storage.Store
	normalizer *Normalizer
	hub        *ActionHub
}

// NewHandler creates an ingest handler.
func NewHandler(store storage.Store, normalizer *Normalizer) *Handler {
	return &Handler{store: store, normalizer: normalizer}
}

// SetHub attaches a live-feed hub; accepted records are broadcast to it.
func (h *Handler) SetHub(hub *ActionHub) {
	h.hub = hub
}

// IngestRequest is the batch request payload. A bare event object (no
// "actions" wrapper) is also accepted for single-event clients.
type IngestRequest struct {
	Actions []json.RawMessage `json:"actions"`
}

// EventResult reports the outcome for one submitted event.
type EventResult struct {
	Status string `json:"status"` // accepted, dropped, rejected
	ID     uint64 `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// IngestResponse summarizes a batch.
type IngestResponse struct {
	Accepted int           `json:"accepted"`
	Dropped  int           `json:"dropped"`
	Rejected int           `json:"rejected"`
	Results  []EventResult `json:"results"`
}

// HandleIngest handles POST /v1/actions.
//
// Normalization failures become per-event rejection results, never 5xx:
// one bad capture client must not poison a shared batch. Store failures do
// surface as errors so clients can retry.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(config.IngestMaxBatchSize)*int64(config.IngestMaxContextKB)*1024))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	events, single, err := splitEvents(body)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(events) > config.IngestMaxBatchSize {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge,
			"batch exceeds "+strconv.Itoa(config.IngestMaxBatchSize)+" events")
		return
	}

	results := make([]EventResult, len(events))
	var accepted []action.Record
	acceptedIdx := make([]int, 0, len(events))

	for i, raw := range events {
		rec, err := h.normalizeOne(raw)
		switch {
		case err == nil:
			results[i] = EventResult{Status: "accepted"}
			accepted = append(accepted, rec)
			acceptedIdx = append(acceptedIdx, i)
		case errors.Is(err, ErrDenied):
			results[i] = EventResult{Status: "dropped"}
		default:
			results[i] = EventResult{Status: "rejected", Error: err.Error()}
		}
	}

	if len(accepted) > 0 {
		ids, err := h.store.AppendBatch(ctx, accepted)
		if err != nil {
			// Store I/O failure propagates to the caller for retry.
			log.Printf("Ingest append failed (%d events): %v", len(accepted), err)
			httpx.RespondError(w, http.StatusServiceUnavailable, err)
			return
		}
		for j, idx := range acceptedIdx {
			results[idx].ID = ids[j]
			accepted[j].ID = ids[j]
		}
		if h.hub != nil {
			h.hub.BroadcastActions(accepted)
		}
	}

	resp := IngestResponse{Results: results}
	for _, res := range results {
		switch res.Status {
		case "accepted":
			resp.Accepted++
		case "dropped":
			resp.Dropped++
		default:
			resp.Rejected++
		}
	}

	status := http.StatusCreated
	if resp.Accepted == 0 {
		status = http.StatusOK
		if single && resp.Rejected > 0 {
			status = http.StatusBadRequest
		}
	}
	httpx.RespondJSON(w, status, resp)
}

func (h *Handler) normalizeOne(raw json.RawMessage) (action.Record, error) {
	if len(raw) > config.IngestMaxContextKB*1024 {
		return action.Record{}, &action.ValidationError{Field: "context", Reason: "exceeds size limit"}
	}
	var ev RawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		var verr *action.ValidationError
		if errors.As(err, &verr) {
			return action.Record{}, verr
		}
		return action.Record{}, &action.ValidationError{Field: "event", Reason: "is not valid JSON"}
	}
	return h.normalizer.Normalize(ev)
}

// splitEvents accepts either {"actions": [...]} or a bare event object.
func splitEvents(body []byte) ([]json.RawMessage, bool, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil && req.Actions != nil {
		return req.Actions, false, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false, errors.New("body must be a JSON object")
	}
	return []json.RawMessage{body}, true, nil
}

// HandleQuery handles GET /v1/actions.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestQueryTimeout)
	defer cancel()

	req := storage.QueryRequest{Limit: config.IngestDefaultLimit}
	q := r.URL.Query()

	if v := q.Get("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid start time")
			return
		}
		req.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid end time")
			return
		}
		req.End = t
	}
	if v := q.Get("source"); v != "" {
		req.Sources = q["source"]
	}
	if v := q.Get("type"); v != "" {
		req.Types = q["type"]
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = limit
	}
	if req.Limit > config.IngestMaxQueryLimit {
		req.Limit = config.IngestMaxQueryLimit
	}
	if q.Get("order") == "asc" {
		req.Order = storage.OrderAsc
	}

	results, err := h.store.Query(ctx, req)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"actions": results,
		"count":   len(results),
	})
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestStatsTimeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

// parseTime accepts epoch seconds or RFC 3339, same as ingestion.
func parseTime(v string) (time.Time, error) {
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMicro(int64(sec * 1e6)).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
