package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/trackd-io/trackd/pkg/artifact"
	"github.com/trackd-io/trackd/pkg/httpx"
	"github.com/trackd-io/trackd/pkg/server/monitor"
	"github.com/trackd-io/trackd/pkg/storage"
)

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	Cleanup monitor.CleanupStatus `json:"cleanup"`
}

// handleHealth returns service health status.
func handleHealth(cleanupMonitor *monitor.CleanupMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleanupHealthy := cleanupMonitor.IsHealthy()
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !cleanupHealthy {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: "1.0.0",
			Uptime:  time.Since(startTime).String(),
			Cleanup: cleanupMonitor.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(monitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := monitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		usage := StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  monitor.GetLimit(),
		}

		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// handlePutArtifact handles POST /v1/artifacts.
func handlePutArtifact(store storage.ArtifactStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a artifact.Artifact
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "body must be a JSON artifact")
			return
		}
		if !a.Kind.Valid() {
			httpx.RespondErrorString(w, http.StatusBadRequest, "unknown artifact kind")
			return
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}

		id, err := store.PutArtifact(r.Context(), a)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		a.ID = id
		httpx.RespondJSON(w, http.StatusCreated, a)
	}
}

// handleGetArtifact handles GET /v1/artifacts/{id}.
func handleGetArtifact(store storage.ArtifactStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid artifact id")
			return
		}

		a, err := store.GetArtifact(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpx.RespondErrorString(w, http.StatusNotFound, "artifact not found")
				return
			}
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, a)
	}
}

// handleListArtifacts handles GET /v1/artifacts.
func handleListArtifacts(store storage.ArtifactStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := artifact.Kind(r.URL.Query().Get("kind"))
		if kind != "" && !kind.Valid() {
			httpx.RespondErrorString(w, http.StatusBadRequest, "unknown artifact kind")
			return
		}

		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				httpx.RespondErrorString(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		artifacts, err := store.ListArtifacts(r.Context(), kind, limit)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, map[string]any{
			"artifacts": artifacts,
			"count":     len(artifacts),
		})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	store storage.Store,
	handlers Handlers,
	storageMonitor *monitor.StorageMonitor,
	cleanupMonitor *monitor.CleanupMonitor,
	port string,
) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))

	// API routes
	api := router.PathPrefix("/v1").Subrouter()

	// Action ingestion and querying
	api.HandleFunc("/actions", handlers.Ingest.HandleIngest).Methods("POST")
	api.HandleFunc("/actions", handlers.Ingest.HandleQuery).Methods("GET")

	// Rollups and maintenance
	api.HandleFunc("/aggregates", handlers.Aggregate.HandleQuery).Methods("GET")
	api.HandleFunc("/cleanup", handlers.Cleanup.HandleCleanup).Methods("POST")

	// Derived artifacts (append-only)
	api.HandleFunc("/artifacts", handlePutArtifact(store)).Methods("POST")
	api.HandleFunc("/artifacts", handleListArtifacts(store)).Methods("GET")
	api.HandleFunc("/artifacts/{id:[0-9]+}", handleGetArtifact(store)).Methods("GET")

	// Metadata and stats
	api.HandleFunc("/stats", handlers.Ingest.HandleStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(cleanupMonitor)).Methods("GET")

	// WebSocket live action feed
	api.HandleFunc("/ws", handlers.Ingest.HandleWebSocket(handlers.Hub)).Methods("GET")

	// Export/import
	api.HandleFunc("/export", handlers.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", handlers.Export.HandleImport).Methods("POST")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
