// Package events carries batch lifecycle notifications between components.
//
// Components publish events without knowing who consumes them. The
// submission loop, tracker, batch builder and reconciler emit; the Progress
// handler aggregates counters for the status endpoint.
//
// Event types:
//   - batch.submitted: a batch was accepted by the service
//   - batch.finished: a tracked batch reached a terminal status
//   - batch.reconciled: a batch's output was merged (or marked processed)
//   - item.skipped: an unreadable or unestimable item was passed over
package events
