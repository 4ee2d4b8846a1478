// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file, BATCHFLOW_* environment variables and
// command-line flags. Components receive the typed sections they need at
// construction time; nothing in this package is a process-wide singleton.
package config
