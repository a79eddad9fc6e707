// Package indexer coordinates metadata indexing runs across NAS
// devices.
//
// An Engine owns the per-device run locks and drives two device kinds:
// direct-file devices are walked lazily and extracted by a bounded
// worker pool, external-db devices are streamed from their relational
// database. Both paths share batched commits, two-stage change
// detection (modification time against the last completed run's start,
// then a content fingerprint), and a persistent run log.
//
// Runs for the same device are mutually exclusive; a second request is
// rejected, never queued. Different devices index concurrently and
// independently. A Monitor layers periodic incremental sweeps on top.
package indexer
