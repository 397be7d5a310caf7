package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	flag "github.com/spf13/pflag"

	"github.com/trackd-io/trackd/pkg/server"
	"github.com/trackd-io/trackd/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.Println("🚀 Starting trackd server...")

	// Environment variables configure the daemon; flags override for
	// one-off runs.
	cfg := server.LoadConfig()
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: badger, sqlite or memory")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	flag.StringVar(&cfg.DenylistPath, "denylist", cfg.DenylistPath, "YAML denylist file (empty = built-in rules)")
	flag.IntVar(&cfg.KeepDays, "keep-days", cfg.KeepDays, "full-fidelity retention window in days")
	flag.Float64Var(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "fraction of aged records to keep")
	flag.Parse()

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize storage: %v", err)
	}
	defer store.Close()

	denylist := server.LoadDenylist(cfg)

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB*1024*1024*1024)
	orch, cleanupMonitor := server.InitializeCleanup(store)
	handlers := server.InitializeHandlers(store, denylist, orch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started for the live action feed")

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.BroadcastRecent(ctx, store, handlers.Hub)
	}()
	log.Println("📤 Action broadcaster started (updates every 5s)")

	stopCleanup := make(chan bool)
	wg.Add(1)
	go server.RunCleanup(orch, cleanupMonitor, cfg, stopCleanup, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, store, handlers, storageMonitor, cleanupMonitor, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)
		log.Println("📡 API endpoints:")
		log.Println("   POST /v1/actions     - Ingest actions")
		log.Println("   GET  /v1/actions     - Query actions")
		log.Println("   GET  /v1/aggregates  - Query rollup buckets")
		log.Println("   POST /v1/cleanup     - Trigger maintenance (dry-run by default)")
		log.Println("   GET  /v1/artifacts   - List derived artifacts")
		log.Println("   GET  /v1/stats       - Storage statistics")
		log.Println("✅ Server ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")

	// Cancel before wg.Wait or the hub and broadcaster never exit
	log.Println("⏸️  Stopping background tasks...")
	cancel()
	close(stopCleanup)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("🔄 Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	log.Println("⏳ Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 trackd server exited cleanly")
}
