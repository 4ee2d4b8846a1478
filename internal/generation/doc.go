// Package generation defines the boundary between the submission core and
// the external batch-execution service: the Service interface, the batch
// descriptor handed to it, the records it returns, and the JSONL wire
// format used for request and result files. Implementations live in
// internal/platform (gemini, dryrun).
package generation
