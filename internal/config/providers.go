package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProvidersFile holds provider defaults and the Google model fallback
// ladder, optionally loaded from a YAML file. The ladder lists naming
// variants of the same logical model, tried in order when a per-item
// embedding call fails.
type ProvidersFile struct {
	DefaultProvider string            `yaml:"default_provider"`
	DefaultModels   map[string]string `yaml:"default_models"`
	GoogleFallbacks []string          `yaml:"google_fallbacks"`
}

// DefaultProvidersFile returns the built-in provider defaults.
func DefaultProvidersFile() ProvidersFile {
	return ProvidersFile{
		DefaultProvider: "local",
		DefaultModels: map[string]string{
			"openai": "text-embedding-3-small",
			"google": "models/embedding-001",
		},
		GoogleFallbacks: []string{
			"models/embedding-001",
			"embedding-001",
			"models/text-embedding-004",
			"text-embedding-004",
		},
	}
}

// LoadProvidersFile reads a ProvidersFile from a YAML file. Fields absent
// from the file keep their built-in defaults.
func LoadProvidersFile(path string) (ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProvidersFile{}, fmt.Errorf("read providers file: %w", err)
	}

	p := DefaultProvidersFile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ProvidersFile{}, fmt.Errorf("parse providers file %s: %w", path, err)
	}
	if p.DefaultProvider == "" {
		p.DefaultProvider = "local"
	}
	if len(p.GoogleFallbacks) == 0 {
		p.GoogleFallbacks = DefaultProvidersFile().GoogleFallbacks
	}
	return p, nil
}

// DefaultModel returns the configured default model for a provider,
// or empty when the provider has no default.
func (p ProvidersFile) DefaultModel(provider string) string {
	return p.DefaultModels[provider]
}
