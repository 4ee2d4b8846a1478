// Package api serves the read-only progress endpoint of the submission
// command: GET /health and GET /status.
package api
