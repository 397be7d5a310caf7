package cleanup

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/trackd-io/trackd/pkg/httpx"
)

// Handler exposes the maintenance cycle over HTTP.
type Handler struct {
	orch *Orchestrator
}

// NewHandler creates a cleanup handler.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// CleanupRequest is the POST /v1/cleanup payload. All fields are optional;
// absent fields take the standing defaults. DryRun defaults to true, so a
// destructive run always requires an explicit {"dry_run": false}.
type CleanupRequest struct {
	DryRun     *bool    `json:"dry_run"`
	KeepDays   *int     `json:"keep_days"`
	SampleRate *float64 `json:"sample_rate"`
}

// HandleCleanup handles POST /v1/cleanup.
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	opts := DefaultOptions()

	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		var req CleanupRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}
		if req.DryRun != nil {
			opts.DryRun = *req.DryRun
		}
		if req.KeepDays != nil {
			opts.KeepDays = *req.KeepDays
		}
		if req.SampleRate != nil {
			opts.SampleRate = *req.SampleRate
		}
	}

	report, err := h.orch.Run(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, ErrCycleInProgress):
			httpx.RespondError(w, http.StatusConflict, err)
		case isBadOptions(err):
			httpx.RespondError(w, http.StatusBadRequest, err)
		default:
			httpx.RespondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	httpx.RespondJSON(w, http.StatusOK, report)
}

// isBadOptions distinguishes option validation errors from cycle failures.
func isBadOptions(err error) bool {
	var cerr *CycleError
	return !errors.As(err, &cerr) && !errors.Is(err, ErrCycleInProgress)
}
