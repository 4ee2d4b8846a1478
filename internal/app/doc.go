// Package app wires configuration, persistence and the batch service into
// the two long-running operations: the submission loop and a reconciliation
// pass. The commands under cmd/ are thin wrappers around it.
package app
