package indexer

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pacs-index/internal/config"
	"pacs-index/internal/extract"
	"pacs-index/internal/store"
)

// stubExtractor produces deterministic metadata from the path layout
// without reading DICOM headers. It counts calls so change-detection
// tests can assert which files were actually re-extracted.
type stubExtractor struct {
	calls atomic.Int64
	gate  chan struct{} // if non-nil, Extract blocks until closed
	fail  string        // path suffix that fails extraction
}

func (s *stubExtractor) Extract(deviceID, rootPath, path string, info os.FileInfo) (*extract.Metadata, error) {
	s.calls.Add(1)

	if s.gate != nil {
		<-s.gate
	}
	if s.fail != "" && strings.HasSuffix(path, s.fail) {
		return nil, &extract.ExtractError{Path: path, Err: errors.New("corrupt header")}
	}

	fp, err := extract.FileFingerprint(path, deviceID)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(rootPath, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	patientID := "UNKNOWN"
	if i := strings.Index(rel, "/"); i > 0 {
		patientID = rel[:i]
	}
	studyUID := "s." + patientID
	seriesUID := studyUID + ".1"

	return &extract.Metadata{
		DeviceID: deviceID,
		Patient:  extract.PatientInfo{PatientID: patientID, Name: patientID},
		Study:    extract.StudyInfo{StudyUID: studyUID, Modality: "CT", StudyDate: "20250601"},
		Series:   extract.SeriesInfo{SeriesUID: seriesUID, SeriesNumber: 1, Modality: "CT"},
		Instance: extract.InstanceInfo{
			SOPUID:      extract.SynthesizeSOPUID(seriesUID, rel),
			FilePath:    path,
			FileSize:    info.Size(),
			FileFormat:  "DICOM",
			Fingerprint: fp,
		},
	}, nil
}

func newTestEngine(t *testing.T, devices ...config.Device) (*Engine, *store.Store, *stubExtractor) {
	t.Helper()
	return newTestEngineAt(t, filepath.Join(t.TempDir(), "index.db"), devices...)
}

func newTestEngineAt(t *testing.T, dbPath string, devices ...config.Device) (*Engine, *store.Store, *stubExtractor) {
	t.Helper()

	st, err := store.New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	for _, dev := range devices {
		if err := st.RegisterDevice(context.Background(), dev); err != nil {
			t.Fatalf("Failed to register device %s: %v", dev.ID, err)
		}
	}

	cfg := &config.Config{
		Indexing: config.IndexingConfig{
			IntervalMinutes: 15,
			BatchSize:       2,
			Workers:         2,
		},
		Devices: devices,
	}

	stub := &stubExtractor{}
	engine := New(st, cfg)
	engine.SetExtractor(stub)
	return engine, st, stub
}

// seedDeviceTree writes candidate files under root, one per relative
// path, with enough bytes to pass the candidate size check.
func seedDeviceTree(t *testing.T, root string, relPaths ...string) {
	t.Helper()
	for _, rel := range relPaths {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte("image-payload-"+rel+strings.Repeat("x", 64)), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
}

func setMTime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
}

func directDevice(id, root string) config.Device {
	return config.Device{ID: id, Kind: config.KindDirectFile, RootPath: root}
}

func TestRunFullDirectDevice(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/b.dcm", "P002/s1/a.dcm")

	engine, st, stub := newTestEngine(t, directDevice("nas1", root))

	summary, err := engine.RunFull(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("RunFull failed: %v", err)
	}
	if summary.Status != store.RunCompleted {
		t.Errorf("Expected completed, got %s", summary.Status)
	}
	if summary.Processed != 3 {
		t.Errorf("Expected 3 processed, got %d", summary.Processed)
	}
	if stub.calls.Load() != 3 {
		t.Errorf("Expected 3 extractions, got %d", stub.calls.Load())
	}

	n, err := st.CountRows(context.Background(), "instances")
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 instances in store, got %d", n)
	}

	latest, err := st.LatestRun(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest == nil || latest.Status != store.RunCompleted {
		t.Errorf("Expected completed run log, got %+v", latest)
	}
	if latest.FilesProcessed != 3 {
		t.Errorf("Expected run log count 3, got %d", latest.FilesProcessed)
	}
}

func TestRunFullIdempotent(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/b.dcm")

	engine, st, _ := newTestEngine(t, directDevice("nas1", root))
	ctx := context.Background()

	if _, err := engine.RunFull(ctx, "nas1"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if _, err := engine.RunFull(ctx, "nas1"); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	for _, table := range []string{"patients", "studies", "series", "instances"} {
		n, err := st.CountRows(ctx, table)
		if err != nil {
			t.Fatalf("CountRows(%s) failed: %v", table, err)
		}
		var want int64 = 1
		if table == "instances" {
			want = 2
		}
		if n != want {
			t.Errorf("Expected %d rows in %s after rerun, got %d", want, table, n)
		}
	}
}

func TestIncrementalSkipsUntouchedFiles(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/b.dcm", "P002/s1/a.dcm")

	engine, _, stub := newTestEngine(t, directDevice("nas1", root))
	ctx := context.Background()

	if _, err := engine.RunFull(ctx, "nas1"); err != nil {
		t.Fatalf("Full run failed: %v", err)
	}

	// Push every mtime behind the cutoff so the coarse stage alone
	// rules them out.
	past := time.Now().Add(-time.Hour)
	for _, rel := range []string{"P001/s1/a.dcm", "P001/s1/b.dcm", "P002/s1/a.dcm"} {
		setMTime(t, filepath.Join(root, rel), past)
	}

	stub.calls.Store(0)
	summary, err := engine.RunIncremental(ctx, "nas1")
	if err != nil {
		t.Fatalf("Incremental run failed: %v", err)
	}

	if summary.Processed != 0 {
		t.Errorf("Expected 0 processed, got %d", summary.Processed)
	}
	if summary.Skipped != 3 {
		t.Errorf("Expected 3 skipped, got %d", summary.Skipped)
	}
	if stub.calls.Load() != 0 {
		t.Errorf("Expected no extractions for untouched files, got %d", stub.calls.Load())
	}
}

func TestIncrementalTouchedButUnchanged(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm")

	engine, _, stub := newTestEngine(t, directDevice("nas1", root))
	ctx := context.Background()

	if _, err := engine.RunFull(ctx, "nas1"); err != nil {
		t.Fatalf("Full run failed: %v", err)
	}

	// Bump the mtime past the cutoff without touching content: the
	// coarse stage lets it through, the fingerprint stage rules it out.
	setMTime(t, filepath.Join(root, "P001/s1/a.dcm"), time.Now().Add(time.Hour))

	stub.calls.Store(0)
	summary, err := engine.RunIncremental(ctx, "nas1")
	if err != nil {
		t.Fatalf("Incremental run failed: %v", err)
	}

	if summary.Skipped != 1 || summary.Processed != 0 {
		t.Errorf("Expected skipped=1 processed=0, got skipped=%d processed=%d",
			summary.Skipped, summary.Processed)
	}
	if stub.calls.Load() != 0 {
		t.Errorf("Touched-but-unchanged file must not be re-extracted, got %d calls", stub.calls.Load())
	}
}

func TestIncrementalDetectsContentChange(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/b.dcm")

	engine, _, stub := newTestEngine(t, directDevice("nas1", root))
	ctx := context.Background()

	if _, err := engine.RunFull(ctx, "nas1"); err != nil {
		t.Fatalf("Full run failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	setMTime(t, filepath.Join(root, "P001/s1/b.dcm"), past)

	changed := filepath.Join(root, "P001/s1/a.dcm")
	if err := os.WriteFile(changed, []byte("rewritten-content"+strings.Repeat("y", 64)), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	setMTime(t, changed, time.Now().Add(time.Hour))

	stub.calls.Store(0)
	summary, err := engine.RunIncremental(ctx, "nas1")
	if err != nil {
		t.Fatalf("Incremental run failed: %v", err)
	}

	if summary.Processed != 1 {
		t.Errorf("Expected 1 processed (changed file), got %d", summary.Processed)
	}
	if summary.Skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", summary.Skipped)
	}
	if stub.calls.Load() != 1 {
		t.Errorf("Expected exactly 1 extraction, got %d", stub.calls.Load())
	}
}

func TestExtractFailureSkipsFileAndCompletes(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/bad.dcm", "P002/s1/a.dcm")

	engine, _, stub := newTestEngine(t, directDevice("nas1", root))
	stub.fail = "bad.dcm"

	summary, err := engine.RunFull(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("RunFull failed: %v", err)
	}
	if summary.Status != store.RunCompleted {
		t.Errorf("Extraction failures must not fail the run, got %s", summary.Status)
	}
	if summary.Processed != 2 {
		t.Errorf("Expected 2 processed, got %d", summary.Processed)
	}
	if summary.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", summary.Errors)
	}
}

func TestBatchWriteFailureCountsErrorsAndContinues(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/b.dcm", "P002/s1/a.dcm")

	dbPath := filepath.Join(t.TempDir(), "index.db")
	engine, st, _ := newTestEngineAt(t, dbPath, directDevice("nas1", root))

	// Sever the metadata tables out from under the engine. The run log
	// stays intact, so checkpoints and finalization still work while
	// every batch write fails.
	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open raw connection: %v", err)
	}
	if _, err := raw.Exec("DROP TABLE instances"); err != nil {
		t.Fatalf("Failed to drop table: %v", err)
	}
	raw.Close()

	summary, err := engine.RunFull(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("A failed batch write must not abort the run: %v", err)
	}
	if summary.Status != store.RunCompleted {
		t.Errorf("Expected completed, got %s", summary.Status)
	}
	if summary.Processed != 0 {
		t.Errorf("Expected 0 processed, got %d", summary.Processed)
	}
	if summary.Errors != 3 {
		t.Errorf("Expected all 3 units counted as errors, got %d", summary.Errors)
	}

	latest, err := st.LatestRun(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest == nil || latest.Status != store.RunCompleted || latest.Errors != 3 {
		t.Errorf("Expected completed run log with 3 errors, got %+v", latest)
	}
}

func TestConcurrentRunRejected(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm")

	engine, _, stub := newTestEngine(t, directDevice("nas1", root))
	stub.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunFull(context.Background(), "nas1")
		done <- err
	}()

	// Wait for the background run to take the device lock.
	deadline := time.After(5 * time.Second)
	for !engine.IsRunning("nas1") {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for run to start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := engine.RunIncremental(context.Background(), "nas1")
	if !errors.Is(err, ErrConcurrentRun) {
		t.Errorf("Expected ErrConcurrentRun, got %v", err)
	}

	close(stub.gate)
	if err := <-done; err != nil {
		t.Fatalf("Background run failed: %v", err)
	}
}

func TestCancellationStopsAtBatchBoundary(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm", "P001/s1/b.dcm", "P001/s1/c.dcm", "P001/s1/d.dcm")

	engine, st, stub := newTestEngine(t, directDevice("nas1", root))
	stub.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *RunSummary, 1)
	go func() {
		summary, _ := engine.RunFull(ctx, "nas1")
		done <- summary
	}()

	deadline := time.After(5 * time.Second)
	for !engine.IsRunning("nas1") {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for run to start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	close(stub.gate)

	summary := <-done
	if summary == nil {
		t.Fatal("Expected a run summary")
	}
	if summary.Status != store.RunCancelled {
		t.Errorf("Expected cancelled status, got %s", summary.Status)
	}

	latest, err := st.LatestRun(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest.Status != store.RunCancelled {
		t.Errorf("Expected cancelled run log, got %s", latest.Status)
	}
}

func TestUnknownDevice(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.RunFull(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}

	_, _, err = engine.Status(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice from Status, got %v", err)
	}
}

func TestUnreachableRootFailsRun(t *testing.T) {
	engine, st, _ := newTestEngine(t, directDevice("nas1", "/nonexistent/mount/nas1"))

	_, err := engine.RunFull(context.Background(), "nas1")
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("Expected ErrDeviceUnreachable, got %v", err)
	}

	latest, err := st.LatestRun(context.Background(), "nas1")
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest == nil || latest.Status != store.RunFailed {
		t.Errorf("Expected failed run log, got %+v", latest)
	}
}

func TestRunAllDevicesIndependent(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm")

	engine, st, _ := newTestEngine(t,
		directDevice("good", root),
		directDevice("broken", "/nonexistent/mount/broken"),
	)

	err := engine.RunAll(context.Background(), store.RunFull)
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Errorf("Expected the broken device's failure to surface, got %v", err)
	}

	// The broken device must not have prevented the good one.
	latest, lookupErr := st.LatestRun(context.Background(), "good")
	if lookupErr != nil {
		t.Fatalf("LatestRun failed: %v", lookupErr)
	}
	if latest == nil || latest.Status != store.RunCompleted {
		t.Errorf("Expected completed run for good device, got %+v", latest)
	}
}

func TestStatusReportsLatestRun(t *testing.T) {
	root := t.TempDir()
	seedDeviceTree(t, root, "P001/s1/a.dcm")

	engine, _, _ := newTestEngine(t, directDevice("nas1", root))
	ctx := context.Background()

	latest, running, err := engine.Status(ctx, "nas1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if latest != nil || running {
		t.Errorf("Expected no history before first run, got latest=%+v running=%v", latest, running)
	}

	if _, err := engine.RunFull(ctx, "nas1"); err != nil {
		t.Fatalf("RunFull failed: %v", err)
	}

	latest, running, err = engine.Status(ctx, "nas1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if latest == nil || latest.Status != store.RunCompleted {
		t.Errorf("Expected completed latest run, got %+v", latest)
	}
	if running {
		t.Error("Expected no active run")
	}
}
