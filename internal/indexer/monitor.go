package indexer

import (
	"context"
	"time"

	"pacs-index/internal/logging"
	"pacs-index/internal/metrics"
	"pacs-index/internal/store"
)

// Monitor drives periodic incremental sweeps across all configured
// devices. A device still busy from the previous sweep is skipped, not
// queued.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewMonitor creates a Monitor that sweeps at the given interval.
func NewMonitor(engine *Engine, interval time.Duration) *Monitor {
	return &Monitor{
		engine:   engine,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep loop in the background. The first sweep fires
// one full interval after Start, not immediately; initial indexing is
// the caller's decision.
func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.doneChan)

	logging.Info("Monitor started: incremental sweep every %v", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopChan:
			logging.Info("Monitor stopped")
			return
		}
	}
}

func (m *Monitor) sweep() {
	metrics.MonitorSweepsTotal.Inc()
	logging.Debug("Monitor sweep starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interrupt the sweep if Stop is called while runs are in flight.
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := m.engine.RunAll(ctx, store.RunIncremental); err != nil {
		logging.Error("Monitor sweep failed: %v", err)
	}
}

// Stop halts the sweep loop and cancels any sweep in flight. It
// returns once the loop has exited; runs cancel at their next batch
// boundary.
func (m *Monitor) Stop() {
	close(m.stopChan)
	<-m.doneChan
}
