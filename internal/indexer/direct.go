package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pacs-index/internal/config"
	"pacs-index/internal/extract"
	"pacs-index/internal/filesystem"
	"pacs-index/internal/logging"
	"pacs-index/internal/metrics"
	"pacs-index/internal/store"
	"pacs-index/internal/workers"
)

const (
	// Size of the walker-to-worker and worker-to-collector channels.
	// Bounds memory while the walker streams ahead of extraction.
	channelBuffer = 1000

	// Cap on auto-sized extraction pools. NAS servers degrade under
	// too many concurrent readers long before the client runs out of
	// CPUs.
	maxAutoWorkers = 8
)

// fileJob is one candidate file handed from the walker to an
// extraction worker.
type fileJob struct {
	path string
	info os.FileInfo
}

// fileResult is one extraction outcome handed to the collector.
type fileResult struct {
	meta    *extract.Metadata
	skipped bool
	err     error
	path    string
}

// runDirect indexes a direct-file device: a streaming directory walk
// feeds a bounded pool of extraction workers, and a single collector
// commits their output in batches. The walker never materializes the
// whole tree in memory.
func (e *Engine) runDirect(ctx context.Context, dev config.Device, runID string, mode store.RunMode, cutoff time.Time) (runResult, error) {
	var result runResult

	if _, err := filesystem.StatWithRetry(dev.RootPath, dev.ID, e.retry); err != nil {
		return result, fmt.Errorf("%w: device %s root %s: %v", ErrDeviceUnreachable, dev.ID, dev.RootPath, err)
	}

	numWorkers := e.cfg.Indexing.Workers
	if numWorkers <= 0 {
		numWorkers = workers.ForIO(maxAutoWorkers)
	}
	logging.Debug("Device %s: walking %s with %d extraction workers", dev.ID, dev.RootPath, numWorkers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan fileJob, channelBuffer)
	results := make(chan fileResult, channelBuffer)

	var coarseSkipped atomic.Int64
	var walkErr error

	// Walker: streams candidate files into the job channel, applying
	// the coarse modification-time stage of change detection.
	go func() {
		defer close(jobs)
		walkErr = filepath.WalkDir(dev.RootPath, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return fs.SkipAll
			default:
			}

			if err != nil {
				logging.Warn("Device %s: error accessing %s: %v", dev.ID, path, err)
				return nil
			}

			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				logging.Warn("Device %s: error reading info for %s: %v", dev.ID, path, err)
				return nil
			}

			if !extract.IsCandidate(d.Name(), info.Size()) {
				return nil
			}

			// Coarse stage: anything untouched since the last
			// completed run started cannot have changed.
			if mode == store.RunIncremental && !cutoff.IsZero() && info.ModTime().Before(cutoff) {
				coarseSkipped.Add(1)
				return nil
			}

			select {
			case jobs <- fileJob{path: path, info: info}:
			case <-ctx.Done():
				return fs.SkipAll
			}
			return nil
		})
	}()

	// Extraction workers.
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				res := e.extractOne(ctx, dev, job, mode)

				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collector: the only goroutine that writes to the store.
	err := e.collect(ctx, dev.ID, runID, results, &result)

	result.skipped += coarseSkipped.Load()
	metrics.IndexUnitsSkipped.WithLabelValues(dev.ID).Add(float64(coarseSkipped.Load()))

	if err != nil {
		return result, err
	}
	if walkErr != nil && walkErr != fs.SkipAll {
		return result, fmt.Errorf("walk %s: %w", dev.RootPath, walkErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}

// extractOne runs the fingerprint stage of change detection and, when
// the file is new or changed, full metadata extraction.
func (e *Engine) extractOne(ctx context.Context, dev config.Device, job fileJob, mode store.RunMode) fileResult {
	if mode == store.RunIncremental {
		fp, err := extract.FileFingerprint(job.path, dev.ID)
		if err != nil {
			return fileResult{err: err, path: job.path}
		}

		stored, err := e.store.InstanceFingerprintByPath(ctx, dev.ID, job.path)
		if err != nil {
			return fileResult{err: err, path: job.path}
		}
		if stored != "" && stored == fp {
			return fileResult{skipped: true, path: job.path}
		}
	}

	meta, err := e.extractor.Extract(dev.ID, dev.RootPath, job.path, job.info)
	if err != nil {
		return fileResult{err: err, path: job.path}
	}
	return fileResult{meta: meta, path: job.path}
}

// collect drains extraction results and commits them in batches. Each
// batch is followed by a run checkpoint; on cancellation the current
// uncommitted batch is discarded and committed batches stand. A batch
// that still fails to commit after the retry is dropped and its units
// counted as errors, so one bad batch never aborts the whole run.
func (e *Engine) collect(ctx context.Context, deviceID, runID string, results <-chan fileResult, result *runResult) error {
	batchSize := e.cfg.Indexing.BatchSize
	batch := make([]*extract.Metadata, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := e.flushBatch(batch); err != nil {
			logging.Error("Device %s: dropping batch of %d units: %v", deviceID, len(batch), err)
			result.errors += int64(len(batch))
		} else {
			result.processed += int64(len(batch))
			metrics.IndexUnitsProcessed.WithLabelValues(deviceID).Add(float64(len(batch)))
		}
		batch = batch[:0]

		if err := e.store.CheckpointRun(ctx, runID, result.processed, result.errors); err != nil {
			logging.Warn("Failed to checkpoint run %s: %v", runID, err)
		}
	}

	for res := range results {
		switch {
		case res.err != nil:
			result.errors++
			metrics.ExtractFailures.WithLabelValues(deviceID).Inc()
			logging.Warn("Device %s: skipping %s: %v", deviceID, res.path, res.err)
		case res.skipped:
			result.skipped++
			metrics.IndexUnitsSkipped.WithLabelValues(deviceID).Inc()
		case res.meta != nil:
			batch = append(batch, res.meta)
		}

		if len(batch) >= batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			flush()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

// flushBatch commits one batch of metadata in a single transaction,
// retrying once on a write failure before giving up.
func (e *Engine) flushBatch(batch []*extract.Metadata) error {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		lastErr = e.writeBatch(batch)
		if lastErr == nil {
			return nil
		}
		logging.Warn("Batch write failed (attempt %d): %v", attempt+1, lastErr)
	}

	return fmt.Errorf("batch write failed after retry: %w", lastErr)
}

func (e *Engine) writeBatch(batch []*extract.Metadata) error {
	tx, err := e.store.BeginBatch()
	if err != nil {
		return err
	}

	for _, m := range batch {
		if err := e.store.UpsertMetadata(tx, m); err != nil {
			if endErr := e.store.EndBatch(tx, err); endErr != nil {
				logging.Error("Failed to roll back batch: %v", endErr)
			}
			return err
		}
	}

	return e.store.EndBatch(tx, nil)
}
