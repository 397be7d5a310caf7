package export

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/httpx"
)

// Handler serves snapshot downloads and uploads.
type Handler struct {
	exporter *Exporter
	importer *Importer
}

// NewHandler creates an export handler.
func NewHandler(exporter *Exporter, importer *Importer) *Handler {
	return &Handler{exporter: exporter, importer: importer}
}

// HandleExport handles GET /v1/export.
//
// Query parameters: format (json|csv, default json), start, end (epoch
// seconds or RFC 3339; default last 24h), gzip (1 to compress).
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := Options{Format: "json"}
	if f := q.Get("format"); f != "" {
		if f != "json" && f != "csv" {
			httpx.RespondErrorString(w, http.StatusBadRequest, "format must be json or csv")
			return
		}
		opts.Format = f
	}

	now := time.Now().UTC()
	opts.Start = now.Add(-config.DefaultExportWindow)
	opts.End = now

	if v := q.Get("start"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid start time")
			return
		}
		opts.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid end time")
			return
		}
		opts.End = t
	}
	if opts.End.Sub(opts.Start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("export window exceeds %s", config.MaxExportWindow))
		return
	}

	compress := q.Get("gzip") == "1"
	filename := "actions_" + now.Format("20060102T150405") + "." + opts.Format
	if compress {
		filename += ".gz"
	}

	switch opts.Format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var dst io.Writer = w
	var gz *gzip.Writer
	if compress {
		w.Header().Set("Content-Encoding", "gzip")
		gz = gzip.NewWriter(w)
		dst = gz
	}

	var err error
	if opts.Format == "csv" {
		_, err = h.exporter.ExportToCSV(r.Context(), dst, opts)
	} else {
		_, err = h.exporter.ExportToJSON(r.Context(), dst, opts)
	}
	if gz != nil {
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		// Headers are already sent; the truncated body is all we can
		// signal with.
		return
	}
}

// HandleImport handles POST /v1/import. The body is a JSON snapshot,
// gzip-compressed when Content-Encoding says so.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid gzip body")
			return
		}
		defer gz.Close()
		body = gz
	}

	result, err := h.importer.ImportJSON(r.Context(), body)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func parseTimeParam(v string) (time.Time, error) {
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMicro(int64(sec * 1e6)).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
