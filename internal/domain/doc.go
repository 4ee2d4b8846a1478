// Package domain contains the typed records shared by the submission and
// reconciliation processes: work items, the catalog cursor, batch records and
// their status lattice, and the persisted documents (submission state,
// processed-batch set, result store). It has no knowledge of storage or of
// the external batch-execution service.
package domain
