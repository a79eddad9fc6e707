package extdb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ImageRecord is one flattened row from a database-mediated NAS: the
// patient/study/series/instance join the source database maintains for
// each stored image.
type ImageRecord struct {
	PatientID        string    `gorm:"column:patient_id"`
	PatientName      string    `gorm:"column:patient_name"`
	BirthDate        string    `gorm:"column:birth_date"`
	Sex              string    `gorm:"column:sex"`
	StudyUID         string    `gorm:"column:study_uid"`
	StudyDate        string    `gorm:"column:study_date"`
	StudyDescription string    `gorm:"column:study_description"`
	Modality         string    `gorm:"column:modality"`
	AccessionNumber  string    `gorm:"column:accession_number"`
	SeriesUID        string    `gorm:"column:series_uid"`
	SeriesNumber     int       `gorm:"column:series_number"`
	SeriesDesc       string    `gorm:"column:series_description"`
	FilePath         string    `gorm:"column:file_path"`
	FileSize         int64     `gorm:"column:file_size"`
	FileFormat       string    `gorm:"column:file_format"`
	CompressionRatio float64   `gorm:"column:compression_ratio"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// recordQuery is the bounded join executed against the source database.
// Column names follow the archive schema the vendor ships on these NAS
// units.
const recordQuery = `
	SELECT
		p.patient_id, p.patient_name, p.birth_date, p.sex,
		s.study_uid, s.study_date, s.study_description, s.modality, s.accession_number,
		sr.series_uid, sr.series_number, sr.series_description,
		i.file_path, i.file_size, i.file_format, i.compression_ratio,
		i.updated_at
	FROM patients p
	JOIN studies s ON s.patient_id = p.patient_id
	JOIN series sr ON sr.study_uid = s.study_uid
	JOIN instances i ON i.series_uid = sr.series_uid`

// Client reads image metadata from the relational database of an
// external-db NAS device.
type Client struct {
	db *gorm.DB
}

// Open connects to the source database described by dsn.
func Open(dsn string) (*Client, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Client{db: db}, nil
}

// Ping verifies the source database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Fetch streams records to fn, newest constraint first applied at the
// source: a nil since fetches everything (full run), otherwise only
// rows whose updated_at is at or after the cutoff (incremental run).
// Iteration stops at the first fn error.
func (c *Client) Fetch(ctx context.Context, since *time.Time, fn func(ImageRecord) error) error {
	query := recordQuery
	var args []interface{}
	if since != nil {
		query += " WHERE i.updated_at >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY p.patient_id, s.study_date, sr.series_number"

	rows, err := c.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return fmt.Errorf("source query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec ImageRecord
		if err := c.db.ScanRows(rows, &rec); err != nil {
			return fmt.Errorf("source row scan failed: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
