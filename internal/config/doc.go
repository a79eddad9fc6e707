// Package config loads and validates application configuration,
// including the NAS device registry consumed by the indexing engine.
package config
