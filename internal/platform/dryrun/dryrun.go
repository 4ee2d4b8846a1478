// Package dryrun implements generation.Service on the local filesystem.
// Batches are written as JSONL request files, report running for a fixed
// number of status polls, then finish with a synthetic output per request.
// Both the submission and reconciliation commands can share one directory.
package dryrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/filestore"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
)

const handlePrefix = "dryrun/"

type meta struct {
	DisplayName string             `json:"display_name"`
	Requests    int                `json:"requests"`
	Polls       int                `json:"polls"`
	Status      domain.BatchStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Service is a filesystem-backed generation.Service.
type Service struct {
	dir           string
	pollsToFinish int
	mu            sync.Mutex
}

var _ generation.Service = (*Service)(nil)

// New returns a Service storing batches under dir.
func New(dir string, pollsToFinish int) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: dry-run dir %s: %v", generation.ErrInvalidConfig, dir, err)
	}
	return &Service{dir: dir, pollsToFinish: pollsToFinish}, nil
}

func (s *Service) paths(handle string) (requests, metaPath string, err error) {
	id := strings.TrimPrefix(handle, handlePrefix)
	if id == handle || id == "" || strings.ContainsAny(id, `/\`) {
		return "", "", fmt.Errorf("%w: %s", generation.ErrBatchNotFound, handle)
	}
	return filepath.Join(s.dir, id+".jsonl"), filepath.Join(s.dir, id+".meta.json"), nil
}

// Submit implements generation.Service.
func (s *Service) Submit(ctx context.Context, batch generation.BatchDescriptor) (generation.Submission, error) {
	if len(batch.Requests) == 0 {
		return generation.Submission{}, generation.ErrEmptyBatch
	}
	handle := handlePrefix + uuid.NewString()
	reqPath, metaPath, err := s.paths(handle)
	if err != nil {
		return generation.Submission{}, err
	}

	var buf bytes.Buffer
	if err := generation.EncodeRequests(&buf, batch); err != nil {
		return generation.Submission{}, fmt.Errorf("encode batch requests: %w", err)
	}
	if err := filestore.WriteFile(ctx, reqPath, buf.Bytes()); err != nil {
		return generation.Submission{}, err
	}
	m := meta{
		DisplayName: batch.DisplayName,
		Requests:    len(batch.Requests),
		Status:      domain.BatchStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := filestore.WriteJSON(ctx, metaPath, m); err != nil {
		return generation.Submission{}, err
	}

	logger.FromContext(ctx).Info("dry-run batch written",
		slog.String("handle", handle),
		slog.String("requests_file", reqPath),
		slog.Int("requests", len(batch.Requests)))

	return generation.Submission{Handle: handle, Status: domain.BatchStatusPending, InputRef: reqPath}, nil
}

// Status implements generation.Service. Every call counts as one poll.
func (s *Service) Status(ctx context.Context, handle string) (generation.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqPath, metaPath, err := s.paths(handle)
	if err != nil {
		return generation.StatusReport{}, err
	}
	var m meta
	if err := filestore.ReadJSON(metaPath, &m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return generation.StatusReport{}, fmt.Errorf("%w: %s", generation.ErrBatchNotFound, handle)
		}
		return generation.StatusReport{}, err
	}

	if !m.Status.IsTerminal() {
		m.Polls++
		m.Status = domain.BatchStatusRunning
		if m.Polls > s.pollsToFinish {
			m.Status = domain.BatchStatusDone
		}
		if err := filestore.WriteJSON(ctx, metaPath, m); err != nil {
			return generation.StatusReport{}, err
		}
	}

	rep := generation.StatusReport{Status: m.Status, RawState: string(m.Status)}
	if m.Status.IsSuccess() {
		rep.OutputRef = reqPath
	}
	return rep, nil
}

// FetchOutput implements generation.Service. The output echoes each request
// identity with its line count.
func (s *Service) FetchOutput(ctx context.Context, outputRef string) ([]generation.OutputRecord, error) {
	if outputRef == "" {
		return nil, generation.ErrNoOutput
	}
	data, err := os.ReadFile(outputRef)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", generation.ErrNoOutput, outputRef)
	}
	if err != nil {
		return nil, fmt.Errorf("read output %s: %w", outputRef, err)
	}
	reqs, err := generation.DecodeRequests(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err)
	}

	out := make([]generation.OutputRecord, 0, len(reqs))
	for _, r := range reqs {
		payload, err := json.Marshal(map[string]any{
			"item_id": r.ItemID,
			"lines":   strings.Count(r.Payload, "\n") + 1,
			"dry_run": true,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, generation.OutputRecord{ItemID: r.ItemID, Payload: payload})
	}
	return out, nil
}
