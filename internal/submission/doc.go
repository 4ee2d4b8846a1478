// Package submission runs the admission-controlled submission loop.
//
// Each iteration refreshes in-flight batches, builds the next batch from the
// catalog within the remaining capacity, submits it, and persists the
// submission state. The catalog cursor is only committed once the service
// has accepted the batch, so a failed submission retries the same items.
package submission
