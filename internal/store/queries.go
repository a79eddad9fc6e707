package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SearchPatients answers patient/study search across all devices with a
// single relational query; no raw files are touched. Results are
// grouped per (patient_id, device_id): identical identifiers on two
// devices stay two rows.
func (s *Store) SearchPatients(ctx context.Context, opts SearchOptions) ([]PatientSummary, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("search_patients", start, err) }()

	if opts.Limit < 1 {
		opts.Limit = 200
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	query := `
		SELECT
			p.patient_id, p.device_id, p.name, p.birth_date, p.sex,
			p.affiliation, p.referring_doctor, p.source_path,
			d.description AS device_description,
			COUNT(DISTINCT st.study_uid) AS study_count,
			COUNT(DISTINCT i.sop_uid) AS image_count,
			GROUP_CONCAT(DISTINCT st.modality) AS modalities,
			GROUP_CONCAT(DISTINCT i.file_format) AS formats
		FROM patients p
		LEFT JOIN devices d ON d.device_id = p.device_id
		LEFT JOIN studies st ON st.patient_id = p.patient_id AND st.device_id = p.device_id
		LEFT JOIN series se ON se.study_uid = st.study_uid AND se.device_id = st.device_id
		LEFT JOIN instances i ON i.series_uid = se.series_uid AND i.device_id = se.device_id
		WHERE 1=1
	`
	var args []interface{}

	if opts.Query != "" {
		query += " AND (p.name LIKE ? OR p.patient_id LIKE ?)"
		pattern := "%" + opts.Query + "%"
		args = append(args, pattern, pattern)
	}
	if opts.Modality != "" {
		query += " AND st.modality = ?"
		args = append(args, opts.Modality)
	}
	if opts.StudyDate != "" {
		query += " AND st.study_date = ?"
		args = append(args, strings.ReplaceAll(opts.StudyDate, "-", ""))
	}
	if opts.DeviceID != "" {
		query += " AND p.device_id = ?"
		args = append(args, opts.DeviceID)
	}

	query += `
		GROUP BY p.patient_id, p.device_id
		ORDER BY p.name COLLATE NOCASE, p.device_id
		LIMIT ?`
	args = append(args, opts.Limit)

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PatientSummary
	for rows.Next() {
		var ps PatientSummary
		var birthDate, sex, affiliation, referring, sourcePath, deviceDesc sql.NullString
		var modalities, formats sql.NullString

		if scanErr := rows.Scan(
			&ps.PatientID, &ps.DeviceID, &ps.Name, &birthDate, &sex,
			&affiliation, &referring, &sourcePath, &deviceDesc,
			&ps.StudyCount, &ps.ImageCount, &modalities, &formats,
		); scanErr != nil {
			err = scanErr
			return nil, scanErr
		}

		ps.BirthDate = birthDate.String
		ps.Sex = sex.String
		ps.Affiliation = affiliation.String
		ps.ReferringDoctor = referring.String
		ps.SourcePath = sourcePath.String
		ps.DeviceDescription = deviceDesc.String
		ps.Modalities = modalities.String
		ps.Formats = formats.String
		results = append(results, ps)
	}
	err = rows.Err()
	return results, err
}

// ImageLocations returns every indexed instance for a patient: the
// canonical "where are this patient's images" answer for the serving
// collaborator. Ordered by study date descending, then series and
// instance order.
func (s *Store) ImageLocations(ctx context.Context, patientID, deviceID string) ([]ImageLocation, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("image_locations", start, err) }()

	query := `
		SELECT
			i.file_path, i.file_format, i.compression, i.width, i.height, i.file_size,
			st.description, st.modality, st.study_date,
			se.description, se.series_number, i.instance_number,
			i.device_id, d.description
		FROM instances i
		JOIN series se ON se.series_uid = i.series_uid AND se.device_id = i.device_id
		JOIN studies st ON st.study_uid = se.study_uid AND st.device_id = se.device_id
		JOIN patients p ON p.patient_id = st.patient_id AND p.device_id = st.device_id
		JOIN devices d ON d.device_id = i.device_id
		WHERE p.patient_id = ?
	`
	args := []interface{}{patientID}

	if deviceID != "" {
		query += " AND i.device_id = ?"
		args = append(args, deviceID)
	}

	query += " ORDER BY st.study_date DESC, se.series_number, i.instance_number"

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []ImageLocation
	for rows.Next() {
		var loc ImageLocation
		var fileFormat, compression, studyDesc, modality, studyDate, seriesDesc, deviceDesc sql.NullString
		var width, height, seriesNumber, instanceNumber sql.NullInt64
		var fileSize sql.NullInt64

		if scanErr := rows.Scan(
			&loc.FilePath, &fileFormat, &compression, &width, &height, &fileSize,
			&studyDesc, &modality, &studyDate,
			&seriesDesc, &seriesNumber, &instanceNumber,
			&loc.DeviceID, &deviceDesc,
		); scanErr != nil {
			err = scanErr
			return nil, scanErr
		}

		loc.FileFormat = fileFormat.String
		loc.Compression = compression.String
		loc.Width = int(width.Int64)
		loc.Height = int(height.Int64)
		loc.FileSize = fileSize.Int64
		loc.StudyDescription = studyDesc.String
		loc.Modality = modality.String
		loc.StudyDate = studyDate.String
		loc.SeriesDescription = seriesDesc.String
		loc.SeriesNumber = int(seriesNumber.Int64)
		loc.InstanceNumber = int(instanceNumber.Int64)
		loc.DeviceDescription = deviceDesc.String
		locations = append(locations, loc)
	}
	err = rows.Err()
	return locations, err
}

// Stats returns the device registry with per-device counts plus
// index-wide totals.
func (s *Store) Stats(ctx context.Context) (*DeviceStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("device_stats", start, err) }()

	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DeviceStats{Devices: devices}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM patients", &stats.Totals.Patients},
		{"SELECT COUNT(*) FROM studies", &stats.Totals.Studies},
		{"SELECT COUNT(*) FROM series", &stats.Totals.Series},
		{"SELECT COUNT(*) FROM instances", &stats.Totals.Instances},
	}

	for _, q := range counts {
		if err = s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// CountRows returns the row count of one entity table. Test and
// diagnostics helper; table must be one of the schema's fixed names.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	switch table {
	case "devices", "patients", "studies", "series", "instances", "index_runs":
	default:
		return 0, sql.ErrNoRows
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// OrphanCounts reports child rows whose parent key is missing, one
// count per relationship. All three are zero in a consistent index.
func (s *Store) OrphanCounts(ctx context.Context) (instances, series, studies int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checks := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM instances i
			WHERE NOT EXISTS (SELECT 1 FROM series se
				WHERE se.series_uid = i.series_uid AND se.device_id = i.device_id)`, &instances},
		{`SELECT COUNT(*) FROM series se
			WHERE NOT EXISTS (SELECT 1 FROM studies st
				WHERE st.study_uid = se.study_uid AND st.device_id = se.device_id)`, &series},
		{`SELECT COUNT(*) FROM studies st
			WHERE NOT EXISTS (SELECT 1 FROM patients p
				WHERE p.patient_id = st.patient_id AND p.device_id = st.device_id)`, &studies},
	}

	for _, c := range checks {
		if err = s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return
		}
	}
	return
}
