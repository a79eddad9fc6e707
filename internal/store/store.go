package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"pacs-index/internal/logging"
	"pacs-index/internal/metrics"
)

// Default timeout for store operations
const defaultTimeout = 5 * time.Second

// Store is the unified index: the single durable artifact shared by all
// device indexers and the query engine.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex

	// Start times of in-flight batch transactions, keyed per tx so
	// concurrent device runs do not skew each other's duration metric.
	txStarts map[*sql.Tx]time.Time
}

// New opens (creating if necessary) the unified index at dbPath.
// WAL mode keeps readers unblocked while a batch commit is in progress.
func New(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Index store path: %s", dbPath)

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to index store: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:       db,
		dbPath:   dbPath,
		txStarts: make(map[*sql.Tx]time.Time),
	}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	logging.Info("Index store initialized at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	-- Registered NAS devices
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		root_path TEXT,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		last_indexed INTEGER,
		total_patients INTEGER NOT NULL DEFAULT 0,
		total_studies INTEGER NOT NULL DEFAULT 0,
		total_instances INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Patients, scoped per device: the same identifier on two devices
	-- is two rows, reconciled only at query time.
	CREATE TABLE IF NOT EXISTS patients (
		patient_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		name TEXT NOT NULL,
		birth_date TEXT,
		sex TEXT,
		affiliation TEXT,
		referring_doctor TEXT,
		source_path TEXT NOT NULL,
		indexed_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (patient_id, device_id),
		FOREIGN KEY (device_id) REFERENCES devices (device_id)
	);

	CREATE TABLE IF NOT EXISTS studies (
		study_uid TEXT NOT NULL,
		device_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		study_date TEXT,
		study_time TEXT,
		description TEXT,
		modality TEXT,
		accession_number TEXT,
		study_id TEXT,
		source_path TEXT NOT NULL,
		image_format TEXT,
		compression TEXT,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (study_uid, device_id),
		FOREIGN KEY (patient_id, device_id) REFERENCES patients (patient_id, device_id)
	);

	CREATE TABLE IF NOT EXISTS series (
		series_uid TEXT NOT NULL,
		device_id TEXT NOT NULL,
		study_uid TEXT NOT NULL,
		series_number INTEGER,
		description TEXT,
		modality TEXT,
		body_part TEXT,
		source_path TEXT,
		image_format TEXT,
		compression_ratio REAL,
		instance_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (series_uid, device_id),
		FOREIGN KEY (study_uid, device_id) REFERENCES studies (study_uid, device_id)
	);

	CREATE TABLE IF NOT EXISTS instances (
		sop_uid TEXT NOT NULL,
		device_id TEXT NOT NULL,
		series_uid TEXT NOT NULL,
		instance_number INTEGER,
		file_path TEXT NOT NULL,
		file_size INTEGER,
		file_format TEXT,
		compression TEXT,
		width INTEGER,
		height INTEGER,
		bits_per_pixel INTEGER,
		slice_location REAL,
		acquisition_date TEXT,
		acquisition_time TEXT,
		fingerprint TEXT,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (sop_uid, device_id),
		FOREIGN KEY (series_uid, device_id) REFERENCES series (series_uid, device_id)
	);

	-- Indexing-run log for operator visibility
	CREATE TABLE IF NOT EXISTS index_runs (
		run_id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		files_processed INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		FOREIGN KEY (device_id) REFERENCES devices (device_id)
	);

	CREATE INDEX IF NOT EXISTS idx_patients_name ON patients (name COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_patients_id ON patients (patient_id);
	CREATE INDEX IF NOT EXISTS idx_studies_date ON studies (study_date);
	CREATE INDEX IF NOT EXISTS idx_studies_modality ON studies (modality);
	CREATE INDEX IF NOT EXISTS idx_studies_accession ON studies (accession_number);
	CREATE INDEX IF NOT EXISTS idx_studies_patient ON studies (patient_id, device_id);
	CREATE INDEX IF NOT EXISTS idx_series_study ON series (study_uid, device_id);
	CREATE INDEX IF NOT EXISTS idx_instances_series ON instances (series_uid, device_id);
	CREATE INDEX IF NOT EXISTS idx_instances_path ON instances (device_id, file_path);
	CREATE INDEX IF NOT EXISTS idx_instances_updated ON instances (updated_at);
	CREATE INDEX IF NOT EXISTS idx_runs_device ON index_runs (device_id, started_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return s.runMigrations(ctx)
}

// runMigrations applies additive schema migrations. The schema is a
// contract other processes may read directly, so columns are only ever
// added, never renamed or dropped.
func (s *Store) runMigrations(ctx context.Context) error {
	// Migration 1: slice_location was added after the first release.
	var columnExists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('instances')
		WHERE name='slice_location'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check for slice_location column: %w", err)
	}

	if !columnExists {
		logging.Info("Migrating index store: adding slice_location column to instances")
		if _, err := s.db.ExecContext(ctx, `
			ALTER TABLE instances ADD COLUMN slice_location REAL
		`); err != nil {
			return fmt.Errorf("failed to add slice_location column: %w", err)
		}
	}

	return nil
}

// Close closes the store connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginBatch starts a transaction for a batch of upserts. The caller is
// responsible for calling EndBatch when done.
func (s *Store) BeginBatch() (*sql.Tx, error) {
	// Transaction lifetime is managed by EndBatch, not a timeout
	// context: defer cancel() here would kill the transaction on
	// return.
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.txStarts[tx] = time.Now()
	s.mu.Unlock()
	return tx, nil
}

// EndBatch commits or rolls back a batch transaction.
func (s *Store) EndBatch(tx *sql.Tx, err error) error {
	s.mu.Lock()
	start, tracked := s.txStarts[tx]
	delete(s.txStarts, tx)
	s.mu.Unlock()

	var duration float64
	if tracked {
		duration = time.Since(start).Seconds()
	}

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// recordQuery records store query metrics.
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics refreshes connection-pool gauges.
func (s *Store) UpdateDBMetrics() {
	stats := s.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}
