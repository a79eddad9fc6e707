package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pacs-index/internal/config"
	"pacs-index/internal/extdb"
	"pacs-index/internal/extract"
	"pacs-index/internal/filesystem"
	"pacs-index/internal/logging"
	"pacs-index/internal/metrics"
	"pacs-index/internal/store"
)

// Extractor produces normalized metadata from one file on a
// direct-file device.
type Extractor interface {
	Extract(deviceID, rootPath, path string, info os.FileInfo) (*extract.Metadata, error)
}

// ExternalSource is a connection to an external-db device's relational
// database.
type ExternalSource interface {
	Ping(ctx context.Context) error
	Fetch(ctx context.Context, since *time.Time, fn func(extdb.ImageRecord) error) error
	Close() error
}

// Engine coordinates indexing runs across all configured devices. One
// Engine serves the whole process; per-device locks keep runs for the
// same device mutually exclusive while different devices index
// concurrently.
type Engine struct {
	store     *store.Store
	cfg       *config.Config
	extractor Extractor
	openExt   func(dsn string) (ExternalSource, error)
	retry     filesystem.RetryConfig

	mu      sync.Mutex
	running map[string]bool
}

// RunSummary describes one finished (or rejected) indexing run.
type RunSummary struct {
	RunID     string          `json:"runId"`
	DeviceID  string          `json:"deviceId"`
	Mode      store.RunMode   `json:"mode"`
	Status    store.RunStatus `json:"status"`
	Processed int64           `json:"processed"`
	Skipped   int64           `json:"skipped"`
	Errors    int64           `json:"errors"`
	Duration  time.Duration   `json:"-"`
}

// New creates an Engine over the given store and configuration.
func New(st *store.Store, cfg *config.Config) *Engine {
	return &Engine{
		store:     st,
		cfg:       cfg,
		extractor: extract.NewFileExtractor(),
		openExt: func(dsn string) (ExternalSource, error) {
			return extdb.Open(dsn)
		},
		retry:   filesystem.DefaultRetryConfig(),
		running: make(map[string]bool),
	}
}

// SetExtractor replaces the file metadata extractor. Used by tests to
// substitute a stub that does not read real DICOM files.
func (e *Engine) SetExtractor(ex Extractor) {
	e.extractor = ex
}

// SetExternalOpener replaces the external database dialer.
func (e *Engine) SetExternalOpener(open func(dsn string) (ExternalSource, error)) {
	e.openExt = open
}

// tryStart acquires the per-device run lock. Returns false if a run is
// already in progress for the device.
func (e *Engine) tryStart(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running[deviceID] {
		return false
	}
	e.running[deviceID] = true
	return true
}

func (e *Engine) finish(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, deviceID)
}

// IsRunning reports whether the device currently has a run in progress.
func (e *Engine) IsRunning(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[deviceID]
}

// RunFull performs a full indexing run for one device: every unit is
// visited, extracted and upserted regardless of prior runs.
func (e *Engine) RunFull(ctx context.Context, deviceID string) (*RunSummary, error) {
	return e.run(ctx, deviceID, store.RunFull)
}

// RunIncremental performs an incremental run: units whose modification
// time predates the start of the last completed run are skipped, and
// of the remainder only those whose fingerprint changed are
// re-extracted. With no prior completed run it degenerates to a full
// visit.
func (e *Engine) RunIncremental(ctx context.Context, deviceID string) (*RunSummary, error) {
	return e.run(ctx, deviceID, store.RunIncremental)
}

// RunAll runs every configured device concurrently in the given mode.
// A device already mid-run is skipped rather than queued. Devices are
// independent: one device failing never aborts the others, so the
// group carries no shared cancellation and the first hard failure is
// reported only after all devices finish.
func (e *Engine) RunAll(ctx context.Context, mode store.RunMode) error {
	var g errgroup.Group

	for _, dev := range e.cfg.Devices {
		deviceID := dev.ID
		g.Go(func() error {
			_, err := e.run(ctx, deviceID, mode)
			if errors.Is(err, ErrConcurrentRun) {
				logging.Debug("Device %s busy, skipping %s run", deviceID, mode)
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (e *Engine) run(ctx context.Context, deviceID string, mode store.RunMode) (*RunSummary, error) {
	dev, ok := e.cfg.DeviceByID(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	if !e.tryStart(deviceID) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentRun, deviceID)
	}
	defer e.finish(deviceID)

	metrics.IndexRunning.WithLabelValues(deviceID).Set(1)
	defer metrics.IndexRunning.WithLabelValues(deviceID).Set(0)

	// The cutoff for coarse change detection is the start of the last
	// completed run, not its finish: units modified while that run was
	// walking are not guaranteed to have been seen by it.
	var cutoff time.Time
	if mode == store.RunIncremental {
		var err error
		cutoff, err = e.store.LastCompletedRunStart(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("load incremental cutoff: %w", err)
		}
	}

	run, err := e.store.StartRun(ctx, deviceID, mode)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	logging.Info("Indexing run %s started: device=%s mode=%s", run.RunID, deviceID, mode)
	startTime := time.Now()

	var result runResult
	switch dev.Kind {
	case config.KindDirectFile:
		result, err = e.runDirect(ctx, dev, run.RunID, mode, cutoff)
	case config.KindExternalDB:
		result, err = e.runExternal(ctx, dev, run.RunID, mode, cutoff)
	default:
		err = fmt.Errorf("device %s: unsupported kind %q", deviceID, dev.Kind)
	}

	status := store.RunCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		status = store.RunCancelled
	default:
		status = store.RunFailed
	}

	if finishErr := e.store.FinishRun(ctx, run.RunID, status, result.processed, result.errors); finishErr != nil {
		logging.Error("Failed to finalize run %s: %v", run.RunID, finishErr)
	}

	duration := time.Since(startTime)
	metrics.IndexRunsTotal.WithLabelValues(deviceID, string(mode), string(status)).Inc()

	if status == store.RunCompleted {
		if aggErr := e.store.RefreshAggregates(ctx, deviceID); aggErr != nil {
			logging.Warn("Failed to refresh aggregates for %s: %v", deviceID, aggErr)
		}
		if stErr := e.store.SetDeviceStatus(ctx, deviceID, "online"); stErr != nil {
			logging.Warn("Failed to update device status for %s: %v", deviceID, stErr)
		}
		metrics.IndexLastRunTimestamp.WithLabelValues(deviceID).Set(float64(time.Now().Unix()))
		metrics.IndexLastRunDuration.WithLabelValues(deviceID).Set(duration.Seconds())
	} else if errors.Is(err, ErrDeviceUnreachable) {
		if stErr := e.store.SetDeviceStatus(ctx, deviceID, "unreachable"); stErr != nil {
			logging.Warn("Failed to update device status for %s: %v", deviceID, stErr)
		}
	}

	summary := &RunSummary{
		RunID:     run.RunID,
		DeviceID:  deviceID,
		Mode:      mode,
		Status:    status,
		Processed: result.processed,
		Skipped:   result.skipped,
		Errors:    result.errors,
		Duration:  duration,
	}

	logging.Info("Indexing run %s %s: device=%s processed=%d skipped=%d errors=%d in %v",
		run.RunID, status, deviceID, result.processed, result.skipped, result.errors, duration)

	return summary, err
}

// Status reports the latest run recorded for a device alongside
// whether one is in progress right now.
func (e *Engine) Status(ctx context.Context, deviceID string) (*store.IndexRun, bool, error) {
	if _, ok := e.cfg.DeviceByID(deviceID); !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	latest, err := e.store.LatestRun(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	return latest, e.IsRunning(deviceID), nil
}

// runResult accumulates counters for one run.
type runResult struct {
	processed int64
	skipped   int64
	errors    int64
}
