package indexer

import (
	"context"
	"fmt"
	"time"

	"pacs-index/internal/config"
	"pacs-index/internal/extdb"
	"pacs-index/internal/extract"
	"pacs-index/internal/logging"
	"pacs-index/internal/metrics"
	"pacs-index/internal/store"
)

// runExternal indexes an external-db device by streaming rows from its
// relational database. Change detection mirrors the direct-file path:
// a coarse row-timestamp filter pushed into the query, then a
// fingerprint comparison per surviving row.
func (e *Engine) runExternal(ctx context.Context, dev config.Device, runID string, mode store.RunMode, cutoff time.Time) (runResult, error) {
	var result runResult

	src, err := e.openExt(dev.DSN)
	if err != nil {
		return result, fmt.Errorf("%w: device %s: %v", ErrDeviceUnreachable, dev.ID, err)
	}
	defer src.Close()

	if err := src.Ping(ctx); err != nil {
		return result, fmt.Errorf("%w: device %s: %v", ErrDeviceUnreachable, dev.ID, err)
	}

	var since *time.Time
	if mode == store.RunIncremental && !cutoff.IsZero() {
		since = &cutoff
	}

	batchSize := e.cfg.Indexing.BatchSize
	batch := make([]*extract.Metadata, 0, batchSize)

	// A batch that still fails to commit after the retry is dropped
	// and its rows counted as errors, mirroring the direct-file path.
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := e.flushBatch(batch); err != nil {
			logging.Error("Device %s: dropping batch of %d rows: %v", dev.ID, len(batch), err)
			result.errors += int64(len(batch))
		} else {
			result.processed += int64(len(batch))
			metrics.IndexUnitsProcessed.WithLabelValues(dev.ID).Add(float64(len(batch)))
		}
		batch = batch[:0]

		if err := e.store.CheckpointRun(ctx, runID, result.processed, result.errors); err != nil {
			logging.Warn("Failed to checkpoint run %s: %v", runID, err)
		}
	}

	err = src.Fetch(ctx, since, func(rec extdb.ImageRecord) error {
		meta := extract.FromExternalRow(dev.ID, rec)

		if mode == store.RunIncremental {
			stored, err := e.store.InstanceFingerprintByPath(ctx, dev.ID, rec.FilePath)
			if err != nil {
				return err
			}
			if stored != "" && stored == meta.Instance.Fingerprint {
				result.skipped++
				metrics.IndexUnitsSkipped.WithLabelValues(dev.ID).Inc()
				return nil
			}
		}

		batch = append(batch, meta)
		if len(batch) >= batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			flush()
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	flush()
	return result, nil
}
