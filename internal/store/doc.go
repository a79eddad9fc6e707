// Package store provides SQLite persistence for the NAS image index.
//
// It handles storage and retrieval of:
//   - The device registry and per-device aggregate counts
//   - The patient/study/series/instance hierarchy, keyed per device
//   - The indexing-run log used for incremental change detection
//   - Patient search and image-location queries
//
// The database uses WAL mode for improved concurrent read performance
// and includes automatic schema initialization. Writers batch their
// upserts inside a single transaction via BeginBatch/EndBatch.
package store
