package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	cerrors "github.com/blueberrycongee/semcache/pkg/errors"
)

const (
	// DefaultDimension is the output dimension of text-embedding-3-small.
	DefaultDimension = 1536

	// maxInputLength is the character cap applied before calling the
	// provider; longer prompts are truncated.
	maxInputLength = 8000
)

// OpenAIEmbedder implements Embedder using OpenAI's embedding API.
// Provider failures are classified into the standard cache error kinds so
// callers can decide whether to retry, degrade, or fail loudly.
type OpenAIEmbedder struct {
	client     *http.Client
	apiKey     string
	apiBase    string
	model      string
	dimension  int
	maxRetries uint64
}

// OpenAIConfig holds configuration for the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries uint64 // retries on rate-limited responses
}

// DefaultOpenAIConfig returns sensible defaults for the OpenAI embedder.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIBase:    "https://api.openai.com/v1",
		Model:      "text-embedding-3-small",
		Dimension:  DefaultDimension,
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:     cfg.APIKey,
		apiBase:    cfg.APIBase,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Embed generates an embedding for the text, truncated to the provider's
// input cap. Rate-limited responses are retried with exponential backoff up
// to MaxRetries before the rate limit error is returned.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if len(text) > maxInputLength {
		text = text[:maxInputLength]
	}

	var vec []float64
	operation := func() error {
		var err error
		vec, err = e.embedOnce(ctx, text)
		if err != nil && !cerrors.IsRateLimited(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) ([]float64, error) {
	reqBody := openAIEmbeddingRequest{
		Model: e.model,
		Input: text,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, cerrors.NewProvider("embed", "marshal request", err)
	}

	url := fmt.Sprintf("%s/embeddings", e.apiBase)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, cerrors.NewProvider("embed", "create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, cerrors.NewUnavailable("embed", "embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	var embResp openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, cerrors.NewProvider("embed", "decode response", err)
	}

	if len(embResp.Data) == 0 {
		return nil, cerrors.NewProvider("embed", "no embedding returned", nil)
	}

	return embResp.Data[0].Embedding, nil
}

// classifyStatus maps provider HTTP status codes to the cache error taxonomy.
func classifyStatus(status int, body string) error {
	msg := fmt.Sprintf("status=%d body=%s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return cerrors.NewRateLimited("embed", msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return cerrors.NewUnauthorized("embed", msg, nil)
	case status >= 500:
		return cerrors.NewUnavailable("embed", msg, nil)
	default:
		return cerrors.NewProvider("embed", msg, nil)
	}
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// OpenAI API types

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Object string                `json:"object"`
	Data   []openAIEmbeddingData `json:"data"`
	Model  string                `json:"model"`
}

type openAIEmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}
