package gemini

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/generation"
	"github.com/phrazzld/batchflow/internal/platform/logger"
)

// jsonlMIMEType is the upload type of batch request files.
const jsonlMIMEType = "jsonl"

// BatchService implements generation.Service with the Gemini batch API.
type BatchService struct {
	api   batchAPI
	model string
	retry *retrier
}

var _ generation.Service = (*BatchService)(nil)

// NewBatchService creates a client from cfg and returns the service and a
// token counter sharing the same client and rate limiter.
func NewBatchService(ctx context.Context, cfg config.ServiceConfig) (*BatchService, *TokenCounter, error) {
	if cfg.Model == "" {
		return nil, nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	api, err := newClientAPI(ctx, cfg.APIKey)
	if err != nil {
		return nil, nil, err
	}
	r := newRetrier(cfg)
	return newBatchService(api, cfg.Model, r), newTokenCounter(api, cfg.Model, r), nil
}

func newRetrier(cfg config.ServiceConfig) *retrier {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &retrier{
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: cfg.MaxRetries,
		baseDelay:  delay,
		jitter:     rand.Float64,
		sleep:      sleepCtx,
	}
}

func newBatchService(api batchAPI, model string, r *retrier) *BatchService {
	return &BatchService{api: api, model: model, retry: r}
}

// Submit implements generation.Service. The requests are uploaded as one
// JSONL file keyed by item identity, then a batch job is created from it.
func (s *BatchService) Submit(ctx context.Context, batch generation.BatchDescriptor) (generation.Submission, error) {
	log := logger.FromContext(ctx)
	if len(batch.Requests) == 0 {
		return generation.Submission{}, generation.ErrEmptyBatch
	}

	var buf bytes.Buffer
	if err := generation.EncodeRequests(&buf, batch); err != nil {
		return generation.Submission{}, fmt.Errorf("encode batch requests: %w", err)
	}
	body := buf.Bytes()

	var file *genai.File
	err := s.retry.do(ctx, "upload requests", func(ctx context.Context) error {
		var err error
		file, err = s.api.UploadFile(ctx, bytes.NewReader(body), &genai.UploadFileConfig{
			MIMEType:    jsonlMIMEType,
			DisplayName: batch.DisplayName,
		})
		return err
	})
	if err != nil {
		return generation.Submission{}, err
	}
	if file == nil || file.Name == "" {
		return generation.Submission{}, fmt.Errorf("%w: upload returned no file name", generation.ErrInvalidResponse)
	}
	log.Debug("uploaded batch request file",
		slog.String("file", file.Name),
		slog.Int("bytes", len(body)),
		slog.Int("requests", len(batch.Requests)))

	var job *genai.BatchJob
	err = s.retry.do(ctx, "create batch", func(ctx context.Context) error {
		var err error
		job, err = s.api.CreateBatch(ctx, s.model,
			&genai.BatchJobSource{FileName: file.Name},
			&genai.CreateBatchJobConfig{DisplayName: batch.DisplayName})
		return err
	})
	if err != nil {
		return generation.Submission{}, err
	}
	if job == nil || job.Name == "" {
		return generation.Submission{}, fmt.Errorf("%w: create returned no batch name", generation.ErrInvalidResponse)
	}

	log.Info("created gemini batch job",
		slog.String("handle", job.Name),
		slog.String("state", string(job.State)),
		slog.String("model", s.model))

	return generation.Submission{
		Handle:   job.Name,
		Status:   mapState(job.State),
		InputRef: file.Name,
	}, nil
}

// Status implements generation.Service.
func (s *BatchService) Status(ctx context.Context, handle string) (generation.StatusReport, error) {
	var job *genai.BatchJob
	err := s.retry.do(ctx, "get batch", func(ctx context.Context) error {
		var err error
		job, err = s.api.GetBatch(ctx, handle)
		return err
	})
	if err != nil {
		return generation.StatusReport{}, err
	}
	if job == nil {
		return generation.StatusReport{}, fmt.Errorf("%w: empty batch job for %s", generation.ErrInvalidResponse, handle)
	}

	report := generation.StatusReport{
		Status:   mapState(job.State),
		RawState: string(job.State),
	}
	if report.Status.IsSuccess() && job.Dest != nil {
		report.OutputRef = job.Dest.FileName
	}
	if job.Error != nil && report.Status.IsTerminal() && !report.Status.IsSuccess() {
		logger.FromContext(ctx).Warn("gemini batch reported an error",
			slog.String("handle", handle),
			slog.String("message", job.Error.Message))
	}
	return report, nil
}

// FetchOutput implements generation.Service.
func (s *BatchService) FetchOutput(ctx context.Context, outputRef string) ([]generation.OutputRecord, error) {
	if outputRef == "" {
		return nil, generation.ErrNoOutput
	}
	var data []byte
	err := s.retry.do(ctx, "download output", func(ctx context.Context) error {
		var err error
		data, err = s.api.DownloadFile(ctx, outputRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	return generation.DecodeOutput(bytes.NewReader(data))
}

// TokenCounter implements estimate.Estimator with the model's tokenizer.
type TokenCounter struct {
	api   batchAPI
	model string
	retry *retrier
}

func newTokenCounter(api batchAPI, model string, r *retrier) *TokenCounter {
	return &TokenCounter{api: api, model: model, retry: r}
}

// Estimate implements estimate.Estimator.
func (t *TokenCounter) Estimate(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var resp *genai.CountTokensResponse
	err := t.retry.do(ctx, "count tokens", func(ctx context.Context) error {
		var err error
		resp, err = t.api.CountTokens(ctx, t.model,
			[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)})
		return err
	})
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, fmt.Errorf("%w: empty token count", generation.ErrInvalidResponse)
	}
	return int(resp.TotalTokens), nil
}

// Probe checks that the token counter is reachable and configured. A
// failure at startup is a configuration error.
func (t *TokenCounter) Probe(ctx context.Context) error {
	if _, err := t.Estimate(ctx, "ping"); err != nil {
		return fmt.Errorf("token counter probe: %w", err)
	}
	return nil
}
