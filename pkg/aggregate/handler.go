package aggregate

import (
	"net/http"
	"strconv"
	"time"

	"github.com/trackd-io/trackd/pkg/bucket"
	"github.com/trackd-io/trackd/pkg/httpx"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Handler serves rollup bucket queries.
type Handler struct {
	aggs storage.AggregateStore
}

// NewHandler creates an aggregates handler.
func NewHandler(aggs storage.AggregateStore) *Handler {
	return &Handler{aggs: aggs}
}

// HandleQuery handles GET /v1/aggregates.
//
// Query parameters: granularity (hour|day), dimension (source|action_type|
// total), start and end as epoch seconds or RFC 3339. All optional.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := bucket.Query{}

	switch g := q.Get("granularity"); g {
	case "":
	case string(bucket.Hour), string(bucket.Day):
		query.Granularity = bucket.Granularity(g)
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest, "granularity must be hour or day")
		return
	}

	switch d := q.Get("dimension"); d {
	case "":
	case string(bucket.BySource), string(bucket.ByType), string(bucket.Total):
		query.Dimension = bucket.Dimension(d)
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest, "unknown dimension")
		return
	}

	if v := q.Get("start"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid start time")
			return
		}
		query.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid end time")
			return
		}
		query.End = t
	}

	buckets, err := h.aggs.ListBuckets(r.Context(), query)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"buckets": buckets,
		"count":   len(buckets),
	})
}

func parseTimeParam(v string) (time.Time, error) {
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMicro(int64(sec * 1e6)).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
