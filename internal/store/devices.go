package store

import (
	"context"
	"database/sql"
	"time"

	"pacs-index/internal/config"
)

// RegisterDevice records a device in the registry, updating its
// descriptor if it is already present. Devices are never deleted here;
// deactivation is a status change.
func (s *Store) RegisterDevice(ctx context.Context, d config.Device) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("register_device", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rootPath := d.RootPath
	if d.Kind == config.KindExternalDB {
		// Credentials stay in configuration; the registry records only
		// that the device is database-mediated.
		rootPath = ""
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, kind, root_path, description, status)
		VALUES (?, ?, ?, ?, 'active')
		ON CONFLICT(device_id) DO UPDATE SET
			kind = excluded.kind,
			root_path = excluded.root_path,
			description = excluded.description
	`, d.ID, string(d.Kind), rootPath, d.Description)
	return err
}

// SetDeviceStatus marks a device healthy or unhealthy.
func (s *Store) SetDeviceStatus(ctx context.Context, deviceID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = ? WHERE device_id = ?
	`, status, deviceID)
	return err
}

// Devices returns the full device registry.
func (s *Store) Devices(ctx context.Context) ([]Device, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_devices", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, kind, root_path, description, status,
		       last_indexed, total_patients, total_studies, total_instances, created_at
		FROM devices
		ORDER BY device_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, scanErr := scanDevice(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		devices = append(devices, d)
	}
	err = rows.Err()
	return devices, err
}

func scanDevice(rows *sql.Rows) (Device, error) {
	var d Device
	var kind string
	var rootPath, description, status sql.NullString
	var lastIndexed sql.NullInt64
	var createdAt int64

	if err := rows.Scan(
		&d.ID, &kind, &rootPath, &description, &status,
		&lastIndexed, &d.TotalPatients, &d.TotalStudies, &d.TotalInstances, &createdAt,
	); err != nil {
		return d, err
	}

	d.Kind = DeviceKind(kind)
	d.RootPath = rootPath.String
	d.Description = description.String
	d.Status = status.String
	if lastIndexed.Valid {
		d.LastIndexed = time.Unix(lastIndexed.Int64, 0)
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	return d, nil
}
