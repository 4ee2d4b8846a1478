// Package mocks provides in-memory test doubles for the batch service and
// the persistence interfaces.
//
// The doubles follow the same pattern: an optional function field overrides
// each method, otherwise a small in-memory simulation answers, and every call
// is recorded for verification.
package mocks
