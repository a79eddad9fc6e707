// Package metrics defines the Prometheus collectors exported by the
// indexing engine, the store, and the HTTP surface.
package metrics
