// Package extract turns one image source unit (a file on a direct-file
// device, or a database row from an external-db device) into the
// normalized patient/study/series/instance metadata tuple the unified
// index stores. Header-only: pixel payloads are never read.
package extract
