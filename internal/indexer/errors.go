package indexer

import "errors"

var (
	// ErrConcurrentRun is returned when a run is requested for a device
	// that already has one in progress. Requests are rejected, not
	// queued.
	ErrConcurrentRun = errors.New("indexing run already in progress for device")

	// ErrUnknownDevice is returned when the requested device is not in
	// the configuration.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDeviceUnreachable is returned when a device's mount or database
	// cannot be reached at run start. The run is recorded as failed and
	// existing index entries are left untouched.
	ErrDeviceUnreachable = errors.New("device unreachable")
)
