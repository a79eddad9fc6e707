package indexer

import (
	"context"
	"testing"
	"time"

	"pacs-index/internal/store"
)

func TestMonitorSweepsPeriodically(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm")

	engine, st, _ := newTestEngine(t, directDevice("nas1", root))

	monitor := NewMonitor(engine, 50*time.Millisecond)
	monitor.Start()
	defer monitor.Stop()

	// Wait for at least one sweep to land a run in the log.
	deadline := time.After(5 * time.Second)
	for {
		latest, err := st.LatestRun(context.Background(), "nas1")
		if err != nil {
			t.Fatalf("LatestRun failed: %v", err)
		}
		if latest != nil && latest.Status == store.RunCompleted {
			if latest.Mode != store.RunIncremental {
				t.Errorf("Expected incremental sweep, got %s", latest.Mode)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for monitor sweep")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMonitorStopHaltsLoop(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm")

	engine, _, _ := newTestEngine(t, directDevice("nas1", root))

	monitor := NewMonitor(engine, time.Hour)
	monitor.Start()

	done := make(chan struct{})
	go func() {
		monitor.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
