// Package gemini adapts Google's Gemini batch API to generation.Service and
// exposes the model's token counter as a cost estimator.
//
// This package is an infrastructure adapter: it translates between the
// application's batch descriptors and the genai client without exposing
// genai types to the core.
//
// Key components:
//
// 1. BatchService:
//   - Uploads a JSONL request file and creates a batch job from it
//   - Maps job states onto domain.BatchStatus
//   - Downloads and decodes the result file of a finished job
//
// 2. TokenCounter:
//   - Implements estimate.Estimator with Models.CountTokens
//
// 3. Error Handling:
//   - Every call is paced by a shared rate limiter
//   - Transient failures are retried with exponential backoff and jitter
//   - Error text is redacted before it leaves the package
package gemini
