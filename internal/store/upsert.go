package store

import (
	"context"
	"database/sql"

	"pacs-index/internal/extract"
)

// UpsertMetadata writes one extracted tuple inside the caller's batch
// transaction, parent before child, so no instance ever references a
// missing series. Conflicts on (identifier, device_id) resolve
// last-write-wins on non-key columns; updated_at always advances.
func (s *Store) UpsertMetadata(tx *sql.Tx, m *extract.Metadata) error {
	ctx := context.Background()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO patients (patient_id, device_id, name, birth_date, sex, affiliation, referring_doctor, source_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(patient_id, device_id) DO UPDATE SET
			name = excluded.name,
			birth_date = excluded.birth_date,
			sex = excluded.sex,
			affiliation = excluded.affiliation,
			referring_doctor = excluded.referring_doctor,
			source_path = excluded.source_path,
			updated_at = strftime('%s', 'now')
	`,
		m.Patient.PatientID, m.DeviceID, m.Patient.Name, m.Patient.BirthDate,
		m.Patient.Sex, m.Patient.Affiliation, m.Patient.ReferringDoctor,
		m.Patient.SourcePath,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO studies (study_uid, device_id, patient_id, study_date, study_time, description, modality, accession_number, study_id, source_path, image_format, compression, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(study_uid, device_id) DO UPDATE SET
			patient_id = excluded.patient_id,
			study_date = excluded.study_date,
			study_time = excluded.study_time,
			description = excluded.description,
			modality = excluded.modality,
			accession_number = excluded.accession_number,
			study_id = excluded.study_id,
			source_path = excluded.source_path,
			image_format = excluded.image_format,
			compression = excluded.compression,
			updated_at = strftime('%s', 'now')
	`,
		m.Study.StudyUID, m.DeviceID, m.Patient.PatientID, m.Study.StudyDate,
		m.Study.StudyTime, m.Study.Description, m.Study.Modality,
		m.Study.AccessionNumber, m.Study.StudyID, m.Study.SourcePath,
		m.Study.ImageFormat, m.Study.Compression,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO series (series_uid, device_id, study_uid, series_number, description, modality, body_part, source_path, image_format, compression_ratio, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(series_uid, device_id) DO UPDATE SET
			study_uid = excluded.study_uid,
			series_number = excluded.series_number,
			description = excluded.description,
			modality = excluded.modality,
			body_part = excluded.body_part,
			source_path = excluded.source_path,
			image_format = excluded.image_format,
			compression_ratio = excluded.compression_ratio,
			updated_at = strftime('%s', 'now')
	`,
		m.Series.SeriesUID, m.DeviceID, m.Study.StudyUID, m.Series.SeriesNumber,
		m.Series.Description, m.Series.Modality, m.Series.BodyPart,
		m.Series.SourcePath, m.Series.ImageFormat, nullFloat(m.Series.CompressionRatio),
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instances (sop_uid, device_id, series_uid, instance_number, file_path, file_size, file_format, compression, width, height, bits_per_pixel, slice_location, acquisition_date, acquisition_time, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(sop_uid, device_id) DO UPDATE SET
			series_uid = excluded.series_uid,
			instance_number = excluded.instance_number,
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			file_format = excluded.file_format,
			compression = excluded.compression,
			width = excluded.width,
			height = excluded.height,
			bits_per_pixel = excluded.bits_per_pixel,
			slice_location = excluded.slice_location,
			acquisition_date = excluded.acquisition_date,
			acquisition_time = excluded.acquisition_time,
			fingerprint = excluded.fingerprint,
			updated_at = strftime('%s', 'now')
	`,
		m.Instance.SOPUID, m.DeviceID, m.Series.SeriesUID, m.Instance.InstanceNumber,
		m.Instance.FilePath, m.Instance.FileSize, m.Instance.FileFormat,
		m.Instance.Compression, nullInt(m.Instance.Width), nullInt(m.Instance.Height),
		nullInt(m.Instance.BitsPerPixel), nullFloat(m.Instance.SliceLocation),
		m.Instance.AcquisitionDate, m.Instance.AcquisitionTime, m.Instance.Fingerprint,
	)
	return err
}

// InstanceFingerprintByPath returns the stored fingerprint for the
// instance at a given file path on a device, or "" when the path has
// never been indexed. This is the fine-grained change check: the path
// is known before extraction, the instance identifier is not.
func (s *Store) InstanceFingerprintByPath(ctx context.Context, deviceID, filePath string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fp sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint FROM instances WHERE device_id = ? AND file_path = ?
	`, deviceID, filePath).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return fp.String, nil
}

// RefreshAggregates recomputes per-series instance counts and the
// device's aggregate totals after a run.
func (s *Store) RefreshAggregates(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE series SET instance_count = (
			SELECT COUNT(*) FROM instances i
			WHERE i.series_uid = series.series_uid AND i.device_id = series.device_id
		)
		WHERE device_id = ?
	`, deviceID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET
			total_patients = (SELECT COUNT(*) FROM patients WHERE device_id = ?),
			total_studies = (SELECT COUNT(*) FROM studies WHERE device_id = ?),
			total_instances = (SELECT COUNT(*) FROM instances WHERE device_id = ?),
			last_indexed = strftime('%s', 'now')
		WHERE device_id = ?
	`, deviceID, deviceID, deviceID, deviceID)
	return err
}

func nullInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
