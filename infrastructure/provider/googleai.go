package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"

	domain "github.com/tablevec/tablevec/domain/provider"
)

// googleEmbeddingDimension is the vector length of the Google embedding
// model family used here.
const googleEmbeddingDimension = 768

// DefaultGoogleFallbacks lists naming variants of the Google embedding
// model, tried in order when a call fails. The API accepts different
// aliases depending on version, so a failure on one alias often succeeds
// on another.
var DefaultGoogleFallbacks = []string{
	"models/embedding-001",
	"embedding-001",
	"models/text-embedding-004",
	"text-embedding-004",
}

// googleClientFactory builds an embeddings client for a specific model
// name. Injectable for testing.
type googleClientFactory func(ctx context.Context, model string) (embeddings.Embedder, error)

// GoogleProvider generates embeddings one text at a time via the Google
// Generative AI API. When a call fails it walks the fallback ladder, and
// the first working variant is promoted so later texts skip the dead
// aliases.
type GoogleProvider struct {
	factory   googleClientFactory
	fallbacks []string

	mu      sync.Mutex
	model   string
	clients map[string]embeddings.Embedder
}

// GoogleConfig holds configuration for the Google provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	Fallbacks []string
}

// NewGoogleProvider creates a Google embedding provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewConfigurationError("google: api key is required")
	}

	factory := func(ctx context.Context, model string) (embeddings.Embedder, error) {
		client, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultEmbeddingModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("create google client for %s: %w", model, err)
		}
		return embeddings.NewEmbedder(client)
	}

	return newGoogleProvider(cfg, factory), nil
}

func newGoogleProvider(cfg GoogleConfig, factory googleClientFactory) *GoogleProvider {
	model := cfg.Model
	if model == "" {
		model = DefaultGoogleFallbacks[0]
	}
	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = DefaultGoogleFallbacks
	}

	return &GoogleProvider{
		factory:   factory,
		fallbacks: fallbacks,
		model:     model,
		clients:   make(map[string]embeddings.Embedder),
	}
}

// Model returns the embedding model currently in use. It changes when a
// fallback variant is promoted.
func (p *GoogleProvider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Dimension returns the embedding vector length.
func (p *GoogleProvider) Dimension() int {
	return googleEmbeddingDimension
}

// Close is a no-op for the Google provider.
func (p *GoogleProvider) Close() error {
	return nil
}

// Embed generates embeddings for the given texts, one API call per text.
// A failed call retries through the fallback ladder before failing the
// whole request.
func (p *GoogleProvider) Embed(ctx context.Context, req domain.EmbeddingRequest) (domain.EmbeddingResponse, error) {
	texts := req.Texts()
	if len(texts) == 0 {
		return domain.NewEmbeddingResponse(nil), nil
	}

	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return domain.EmbeddingResponse{}, err
		}
		embeddings[i] = vec
	}

	return domain.NewEmbeddingResponse(embeddings), nil
}

func (p *GoogleProvider) embedOne(ctx context.Context, text string) ([]float64, error) {
	vec, err := p.embedWithModel(ctx, p.Model(), text)
	if err == nil {
		return vec, nil
	}

	lastErr := err
	for _, candidate := range p.fallbacks {
		if candidate == p.Model() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec, err := p.embedWithModel(ctx, candidate, text)
		if err != nil {
			lastErr = err
			continue
		}

		slog.InfoContext(ctx, "promoting google embedding model variant",
			slog.String("model", candidate))
		p.mu.Lock()
		p.model = candidate
		p.mu.Unlock()
		return vec, nil
	}

	return nil, domain.NewProviderError(
		"embedding", 0,
		fmt.Sprintf("all google model variants failed (tried %d)", len(p.fallbacks)),
		lastErr,
	)
}

func (p *GoogleProvider) embedWithModel(ctx context.Context, model, text string) ([]float64, error) {
	client, err := p.clientFor(ctx, model)
	if err != nil {
		return nil, err
	}

	vectors, err := client.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", model, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed with %s: empty response", model)
	}

	vec := make([]float64, len(vectors[0]))
	for i, v := range vectors[0] {
		vec[i] = float64(v)
	}
	return vec, nil
}

func (p *GoogleProvider) clientFor(ctx context.Context, model string) (embeddings.Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[model]; ok {
		return client, nil
	}
	client, err := p.factory(ctx, model)
	if err != nil {
		return nil, err
	}
	p.clients[model] = client
	return client, nil
}

var _ domain.Embedder = (*GoogleProvider)(nil)
