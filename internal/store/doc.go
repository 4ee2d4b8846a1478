// Package store defines interfaces for the persisted documents owned by the
// submission and reconciliation processes. Implementations live under
// internal/platform (filestore, postgres) so that the core never depends on
// a particular storage technology.
package store
