package provider

import (
	domain "github.com/tablevec/tablevec/domain/provider"
)

// Provider names accepted by the factory.
const (
	NameOpenAI = "openai"
	NameGoogle = "google"
	NameLocal  = "local"
)

// EmbedderFactory builds embedders by provider name and model.
type EmbedderFactory interface {
	New(name, model string) (domain.Embedder, error)
}

// Factory creates embedding providers from static configuration.
// Credential checks happen here, before any network or model work starts.
type Factory struct {
	OpenAI        OpenAIConfig
	Google        GoogleConfig
	ModelCacheDir string
}

// New creates an embedder for the named provider. The model argument
// overrides the configured default when non-empty.
func (f Factory) New(name, model string) (domain.Embedder, error) {
	switch name {
	case NameOpenAI:
		cfg := f.OpenAI
		if model != "" {
			cfg.EmbeddingModel = model
		}
		return NewOpenAIProvider(cfg)

	case NameGoogle:
		cfg := f.Google
		if model != "" {
			cfg.Model = model
		}
		return NewGoogleProvider(cfg)

	case NameLocal:
		local := NewLocalProvider(f.ModelCacheDir)
		if !local.Available() {
			return nil, domain.NewConfigurationError(
				"local: no embedding model found in %s", f.ModelCacheDir)
		}
		return local, nil

	default:
		return nil, domain.NewConfigurationError("unknown provider %q", name)
	}
}

var _ EmbedderFactory = Factory{}
