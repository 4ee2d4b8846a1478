package gemini

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/genai"

	"github.com/phrazzld/batchflow/internal/generation"
)

// batchAPI is the subset of the genai client the adapter uses.
type batchAPI interface {
	UploadFile(ctx context.Context, r io.Reader, cfg *genai.UploadFileConfig) (*genai.File, error)
	CreateBatch(ctx context.Context, model string, src *genai.BatchJobSource, cfg *genai.CreateBatchJobConfig) (*genai.BatchJob, error)
	GetBatch(ctx context.Context, name string) (*genai.BatchJob, error)
	DownloadFile(ctx context.Context, name string) ([]byte, error)
	CountTokens(ctx context.Context, model string, contents []*genai.Content) (*genai.CountTokensResponse, error)
}

// clientAPI implements batchAPI on a genai.Client.
type clientAPI struct {
	client *genai.Client
}

func newClientAPI(ctx context.Context, apiKey string) (*clientAPI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return &clientAPI{client: client}, nil
}

func (c *clientAPI) UploadFile(ctx context.Context, r io.Reader, cfg *genai.UploadFileConfig) (*genai.File, error) {
	return c.client.Files.Upload(ctx, r, cfg)
}

func (c *clientAPI) CreateBatch(
	ctx context.Context,
	model string,
	src *genai.BatchJobSource,
	cfg *genai.CreateBatchJobConfig,
) (*genai.BatchJob, error) {
	return c.client.Batches.Create(ctx, model, src, cfg)
}

func (c *clientAPI) GetBatch(ctx context.Context, name string) (*genai.BatchJob, error) {
	return c.client.Batches.Get(ctx, name, nil)
}

func (c *clientAPI) DownloadFile(ctx context.Context, name string) ([]byte, error) {
	f, err := c.client.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Files.Download(ctx, genai.NewDownloadURIFromFile(f), nil)
}

func (c *clientAPI) CountTokens(ctx context.Context, model string, contents []*genai.Content) (*genai.CountTokensResponse, error) {
	return c.client.Models.CountTokens(ctx, model, contents, nil)
}
