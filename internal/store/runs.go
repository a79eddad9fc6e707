package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// StartRun creates a run-log row in the running state and returns it.
func (s *Store) StartRun(ctx context.Context, deviceID string, mode RunMode) (*IndexRun, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("start_run", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	run := &IndexRun{
		RunID:     uuid.NewString(),
		DeviceID:  deviceID,
		Mode:      mode,
		StartedAt: time.Now(),
		Status:    RunRunning,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_runs (run_id, device_id, mode, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.DeviceID, string(run.Mode), run.StartedAt.Unix(), string(run.Status))
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CheckpointRun updates the progress counters of a running run. Called
// at batch boundaries so operators see movement on long runs.
func (s *Store) CheckpointRun(ctx context.Context, runID string, processed, errCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE index_runs SET files_processed = ?, errors = ? WHERE run_id = ?
	`, processed, errCount, runID)
	return err
}

// FinishRun finalizes a run with its terminal status and counters.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, processed, errCount int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_run", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		UPDATE index_runs
		SET status = ?, finished_at = strftime('%s', 'now'), files_processed = ?, errors = ?
		WHERE run_id = ?
	`, string(status), processed, errCount, runID)
	return err
}

// LatestRun returns the most recently started run for a device, or nil
// when the device has never been indexed.
func (s *Store) LatestRun(ctx context.Context, deviceID string) (*IndexRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT run_id, device_id, mode, started_at, finished_at, files_processed, errors, status
		FROM index_runs
		WHERE device_id = ?
		ORDER BY started_at DESC, run_id DESC
		LIMIT 1
	`, deviceID))
}

// LastCompletedRunStart returns the start time of the most recent
// completed run for a device. This is the incremental cutoff: anything
// unchanged since then needs no re-extraction. The zero time means no
// completed run exists and everything is new.
func (s *Store) LastCompletedRunStart(ctx context.Context, deviceID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var started sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(started_at) FROM index_runs
		WHERE device_id = ? AND status = 'completed'
	`, deviceID).Scan(&started)
	if err != nil {
		return time.Time{}, err
	}
	if !started.Valid {
		return time.Time{}, nil
	}
	return time.Unix(started.Int64, 0), nil
}

func (s *Store) scanRun(row *sql.Row) (*IndexRun, error) {
	var run IndexRun
	var mode, status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(&run.RunID, &run.DeviceID, &mode, &startedAt, &finishedAt,
		&run.FilesProcessed, &run.Errors, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.Mode = RunMode(mode)
	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	return &run, nil
}
