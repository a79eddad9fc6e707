// Command pacs-index runs the NAS indexing and search service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pacs-index/internal/config"
	"pacs-index/internal/handlers"
	"pacs-index/internal/indexer"
	"pacs-index/internal/logging"
	"pacs-index/internal/store"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to config file (default: ./pacs-index.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer logging.Sync()

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Store.Path)
	if err != nil {
		logging.Fatal("Failed to initialize index store: %v", err)
	}
	defer st.Close()

	for _, dev := range cfg.Devices {
		if err := st.RegisterDevice(ctx, dev); err != nil {
			logging.Fatal("Failed to register device %s: %v", dev.ID, err)
		}
	}
	logging.Info("Registered %d devices", len(cfg.Devices))

	engine := indexer.New(st, cfg)

	// Initial incremental sweep in the background; a cold store makes
	// it a full build.
	go func() {
		if err := engine.RunAll(ctx, store.RunIncremental); err != nil {
			logging.Error("Initial indexing sweep failed: %v", err)
		}
	}()

	monitor := indexer.NewMonitor(engine, cfg.Indexing.Interval())
	monitor.Start()

	// Keep connection pool gauges fresh.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			st.UpdateDBMetrics()
		}
	}()

	h := handlers.New(st, engine)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, monitor)

	logging.Info("Serving on :%s (startup %v)", cfg.Server.Port, time.Since(startTime))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
}

func handleShutdown(srv *http.Server, monitor *indexer.Monitor) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received %v, shutting down", sig)

	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Graceful shutdown failed: %v", err)
	}
}
