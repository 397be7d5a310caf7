package server

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/trackd-io/trackd/pkg/aggregate"
	"github.com/trackd-io/trackd/pkg/cleanup"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/export"
	"github.com/trackd-io/trackd/pkg/ingest"
	"github.com/trackd-io/trackd/pkg/server/monitor"
	"github.com/trackd-io/trackd/pkg/storage"
	"github.com/trackd-io/trackd/pkg/storage/badger"
	"github.com/trackd-io/trackd/pkg/storage/memory"
	"github.com/trackd-io/trackd/pkg/storage/seal"
	"github.com/trackd-io/trackd/pkg/storage/sqlite"
)

// Config holds server configuration.
type Config struct {
	Port         string
	Backend      string
	DataDir      string
	DenylistPath string
	MaxMemoryMB  int64
	MaxStorageGB int64
	KeepDays     int
	SampleRate   float64

	// SealKey, when set, encrypts context payloads at rest (badger only).
	SealKey []byte
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	cfg := Config{
		Port:         getEnv("PORT", config.DefaultPort),
		Backend:      getEnv("TRACKD_BACKEND", config.DefaultBackend),
		DataDir:      getEnv("TRACKD_DATA_DIR", "./data/trackd"),
		DenylistPath: os.Getenv("TRACKD_DENYLIST"),
		MaxMemoryMB:  getEnvInt64("TRACKD_MAX_MEMORY_MB", 512),
		MaxStorageGB: getEnvInt64("TRACKD_MAX_STORAGE_GB", 10),
		KeepDays:     int(getEnvInt64("TRACKD_KEEP_DAYS", config.DefaultKeepDays)),
		SampleRate:   getEnvFloat("TRACKD_SAMPLE_RATE", config.DefaultSampleRate),
	}

	if hexKey := os.Getenv("TRACKD_SEAL_KEY"); hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			log.Fatalf("TRACKD_SEAL_KEY is not valid hex: %v", err)
		}
		cfg.SealKey = key
	}

	if cfg.Backend != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	return cfg
}

// InitializeStorage opens the configured backend.
func InitializeStorage(cfg Config) (storage.Store, error) {
	switch cfg.Backend {
	case "badger":
		var sealer *seal.Sealer
		if len(cfg.SealKey) > 0 {
			s, err := seal.New(cfg.SealKey)
			if err != nil {
				return nil, fmt.Errorf("failed to build sealer: %w", err)
			}
			sealer = s
			log.Println("Context payload sealing enabled")
		}
		log.Println("Initializing BadgerDB storage with Snappy compression...")
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Sealer:      sealer,
		})
		if err != nil {
			return nil, err
		}
		log.Println("BadgerDB storage initialized successfully")
		return store, nil

	case "sqlite":
		path := filepath.Join(cfg.DataDir, "trackd.db")
		log.Printf("Initializing SQLite storage at %s...", path)
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		log.Println("SQLite storage initialized successfully")
		return store, nil

	case "memory":
		log.Println("Initializing in-memory storage (data is not persisted)")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown backend %q (want badger, sqlite or memory)", cfg.Backend)
	}
}

// LoadDenylist loads the configured denylist, or the built-in default.
func LoadDenylist(cfg Config) config.Denylist {
	if cfg.DenylistPath == "" {
		dl := config.DefaultDenylist()
		log.Printf("Using built-in denylist (%d rules)", dl.Len())
		return dl
	}

	dl, err := config.LoadDenylist(cfg.DenylistPath)
	if err != nil {
		log.Fatalf("Failed to load denylist from %s: %v", cfg.DenylistPath, err)
	}
	log.Printf("Loaded denylist from %s (%d rules)", cfg.DenylistPath, dl.Len())
	return dl
}

// Handlers bundles every request handler the router needs.
type Handlers struct {
	Ingest    *ingest.Handler
	Aggregate *aggregate.Handler
	Cleanup   *cleanup.Handler
	Export    *export.Handler
	Hub       *ingest.ActionHub
}

// InitializeHandlers creates and wires all request handlers.
func InitializeHandlers(store storage.Store, denylist config.Denylist, orch *cleanup.Orchestrator) Handlers {
	normalizer := ingest.NewNormalizer(denylist)

	ingestHandler := ingest.NewHandler(store, normalizer)
	hub := ingest.NewActionHub()
	ingestHandler.SetHub(hub)
	log.Println("Ingest handler created with denylist filtering")

	aggregateHandler := aggregate.NewHandler(store)
	log.Println("Aggregates handler created")

	cleanupHandler := cleanup.NewHandler(orch)
	log.Println("Cleanup handler created (dry-run is the default)")

	exporter := export.NewExporter(store)
	importer := export.NewImporter(store, normalizer, 500)
	exportHandler := export.NewHandler(exporter, importer)
	log.Println("Export/Import handler created (JSON & CSV snapshot support)")

	return Handlers{
		Ingest:    ingestHandler,
		Aggregate: aggregateHandler,
		Cleanup:   cleanupHandler,
		Export:    exportHandler,
		Hub:       hub,
	}
}

// InitializeCleanup creates the maintenance orchestrator with health
// monitoring.
func InitializeCleanup(store storage.Store) (*cleanup.Orchestrator, *monitor.CleanupMonitor) {
	engine := aggregate.New(store, store)
	orch := cleanup.New(store, engine)
	cleanupMonitor := &monitor.CleanupMonitor{}
	log.Printf("Cleanup orchestrator ready (scheduled every %v)", config.CleanupInterval)
	return orch, cleanupMonitor
}

// getEnv gets a string from an environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from an environment variable or returns the default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvFloat gets a float64 from an environment variable or returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %g", key, val, defaultValue)
	}
	return defaultValue
}
