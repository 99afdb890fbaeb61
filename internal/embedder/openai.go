package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/chunkrag/internal/metrics"
)

// OpenAIProvider implements Embedder on the OpenAI embeddings API or any
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	cache     *Cache
	retry     RetryConfig
}

// NewOpenAIProvider creates an OpenAI embedder. An empty API key falls back
// to OPENAI_API_KEY.
func NewOpenAIProvider(cfg Config, cache *Cache) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: openAIDimension(model),
		cache:     cache,
		retry:     DefaultRetryConfig(),
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts, serving cached ones locally and sending the
// rest in slices of at most MaxBatchSize.
func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := o.model
	embeddings := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if emb, ok := o.cache.Get(ComputeHash(model, text)); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(missing))
		idx := missing[start:end]

		texts := make([]string, len(idx))
		for i, j := range idx {
			texts[i] = req.Texts[j]
		}

		vectors, err := retryWithBackoff(ctx, o.retry, func() ([][]float32, error) {
			return o.callAPI(ctx, texts, model)
		})
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(ProviderOpenAI, "error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(ProviderOpenAI, "success").Inc()

		for i, j := range idx {
			hash := ComputeHash(model, req.Texts[j])
			emb := &Embedding{
				Vector:   vectors[i],
				Provider: ProviderOpenAI,
				Model:    model,
			}
			o.cache.Set(hash, emb)
			embeddings[j] = emb
		}
	}

	return &BatchEmbeddingResponse{Embeddings: embeddings}, nil
}

// callAPI returns one vector per text, ordered by the response index
func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// apiError is an API failure that carries its HTTP status for retry decisions
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("embedding API error %d: %s", e.status, e.msg)
}

func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &apiError{status: reqErr.HTTPStatusCode, msg: string(reqErr.Body)}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apiError{status: apiErr.HTTPStatusCode, msg: apiErr.Message}
	}

	return fmt.Errorf("embedding request failed: %w", err)
}

// retryable reports whether err is worth another attempt: transport
// failures, rate limits and server errors.
func retryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status == http.StatusTooManyRequests || ae.status >= http.StatusInternalServerError
	}
	return true
}

func openAIDimension(model string) int {
	switch model {
	case string(openai.LargeEmbedding3):
		return 3072
	default:
		return OpenAIDimension
	}
}
