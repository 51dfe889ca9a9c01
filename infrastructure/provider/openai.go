// Package provider implements embedding and text generation backends:
// OpenAI-compatible APIs, Google Generative AI, and a local ONNX model.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	domain "github.com/tablevec/tablevec/domain/provider"
)

// DefaultBatchSize is the default number of texts per embedding API call.
const DefaultBatchSize = 100

// errEmbeddingCountMismatch indicates the API returned fewer embedding vectors
// than requested. This is retryable because transient upstream issues (e.g.
// rate-limiting behind a 200 status) can produce partial responses.
var errEmbeddingCountMismatch = errors.New("embedding response count mismatch")

// openAIModelDimensions maps known embedding models to their vector length.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements both text generation and embedding using an
// OpenAI-compatible API.
type OpenAIProvider struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	batchSize      int
	maxRetries     int
	initialDelay   time.Duration
	backoffFactor  float64
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	BatchSize      int
	Timeout        time.Duration
	MaxRetries     int
	InitialDelay   time.Duration
	BackoffFactor  float64
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewConfigurationError("openai: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	initialDelay := cfg.InitialDelay
	if initialDelay == 0 {
		initialDelay = 2 * time.Second
	}
	backoffFactor := cfg.BackoffFactor
	if backoffFactor == 0 {
		backoffFactor = 2.0
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(config),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		batchSize:      batchSize,
		maxRetries:     maxRetries,
		initialDelay:   initialDelay,
		backoffFactor:  backoffFactor,
	}, nil
}

// Model returns the embedding model in use.
func (p *OpenAIProvider) Model() string {
	return p.embeddingModel
}

// Dimension returns the embedding vector length for the configured model.
func (p *OpenAIProvider) Dimension() int {
	if dim, ok := openAIModelDimensions[p.embeddingModel]; ok {
		return dim
	}
	return openAIModelDimensions["text-embedding-3-small"]
}

// Close is a no-op for the OpenAI provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// ChatCompletion generates a chat completion.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req domain.ChatCompletionRequest) (domain.ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages()))
	for i, m := range req.Messages() {
		messages[i] = openai.ChatCompletionMessage{
			Role:    m.Role(),
			Content: m.Content(),
		}
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    p.chatModel,
		Messages: messages,
	}
	if req.MaxTokens() > 0 {
		openaiReq.MaxTokens = req.MaxTokens()
	}
	if req.Temperature() > 0 {
		openaiReq.Temperature = float32(req.Temperature())
	}

	var resp openai.ChatCompletionResponse
	var err error

	err = p.withRetry(ctx, func() error {
		resp, err = p.client.CreateChatCompletion(ctx, openaiReq)
		return err
	})
	if err != nil {
		return domain.ChatCompletionResponse{}, p.wrapError("chat_completion", err)
	}

	if len(resp.Choices) == 0 {
		return domain.ChatCompletionResponse{}, domain.NewProviderError(
			"chat_completion", 0, "no choices in response", nil,
		)
	}

	return domain.NewChatCompletionResponse(
		resp.Choices[0].Message.Content,
		string(resp.Choices[0].FinishReason),
	), nil
}

// Embed generates embeddings for the given texts, splitting the request
// into batches of at most the configured batch size. The result vectors
// align 1:1 with the input texts.
func (p *OpenAIProvider) Embed(ctx context.Context, req domain.EmbeddingRequest) (domain.EmbeddingResponse, error) {
	texts := req.Texts()
	if len(texts) == 0 {
		return domain.NewEmbeddingResponse(nil), nil
	}

	embeddings := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return domain.EmbeddingResponse{}, err
		}
		embeddings = append(embeddings, batch...)
	}

	return domain.NewEmbeddingResponse(embeddings), nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	openaiReq := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	var err error

	err = p.withRetry(ctx, func() error {
		resp, err = p.client.CreateEmbeddings(ctx, openaiReq)
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", errEmbeddingCountMismatch, len(resp.Data), len(texts))
		}
		return nil
	})
	if err != nil {
		return nil, p.wrapError("embedding", err)
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float64(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// withRetry executes the function with exponential backoff retry.
func (p *OpenAIProvider) withRetry(ctx context.Context, fn func() error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !p.isRetryable(lastErr) {
			return lastErr
		}

		if attempt < p.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * p.backoffFactor)
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable determines if an error should be retried.
func (p *OpenAIProvider) isRetryable(err error) bool {
	// Partial embedding responses are retryable; upstream providers can
	// return 200 with incomplete data under transient load.
	if errors.Is(err, errEmbeddingCountMismatch) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}

// wrapError converts client errors into ProviderError with status context.
func (p *OpenAIProvider) wrapError(operation string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(operation, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return domain.NewProviderError(operation, 0, fmt.Sprintf("%s failed", operation), err)
}

var (
	_ domain.Embedder      = (*OpenAIProvider)(nil)
	_ domain.TextGenerator = (*OpenAIProvider)(nil)
)
