package config

import "time"

// Server defaults
const (
	DefaultPort    = "8080"
	DefaultBackend = "badger"
)

// Retention policy defaults
const (
	DefaultKeepDays   = 30
	DefaultSampleRate = 0.01
)

// Maintenance intervals
const (
	CleanupInterval  = 1 * time.Hour
	BadgerGCInterval = 10 * time.Minute

	// A persisted cycle-state record older than this is treated as a
	// crashed cycle and taken over.
	CycleStateStale = 1 * time.Hour
)

// Aggregation and retention batch bounds
const (
	// FoldBatchSize bounds how many records one fold transaction covers.
	FoldBatchSize = 1000

	// DeleteBatchSize bounds how many records one delete transaction
	// covers; large backlogs must not exceed a single transaction.
	DeleteBatchSize = 10000
)

// Ingest timeouts and limits
const (
	IngestTimeout       = 5 * time.Second
	IngestQueryTimeout  = 10 * time.Second
	IngestStatsTimeout  = 5 * time.Second
	IngestMaxBatchSize  = 1000
	IngestMaxContextKB  = 64
	IngestDefaultLimit  = 100
	IngestMaxQueryLimit = 5000
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 90 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
