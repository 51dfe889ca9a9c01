package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration.
// Nested structs use an underscore delimiter (e.g. EMBEDDING_ENDPOINT_API_KEY).
type EnvConfig struct {
	// Host is the server host to bind to.
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the server port to listen on.
	// Env: PORT (default: 8080)
	Port int `envconfig:"PORT" default:"8080"`

	// DataDir is the data directory path.
	// Env: DATA_DIR
	// Default: ~/.tablevec
	DataDir string `envconfig:"DATA_DIR"`

	// DBURL is the database connection URL.
	// Env: DB_URL
	// Default: sqlite:///{data_dir}/tablevec.db
	DBURL string `envconfig:"DB_URL"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// ProvidersFile is the path to an optional YAML file with provider
	// defaults and fallback ladders.
	// Env: PROVIDERS_FILE
	ProvidersFile string `envconfig:"PROVIDERS_FILE"`

	// EmbeddingEndpoint configures the hosted embedding service.
	EmbeddingEndpoint EndpointEnv `envconfig:"EMBEDDING_ENDPOINT"`

	// GenerationEndpoint configures the SQL-generation service.
	GenerationEndpoint EndpointEnv `envconfig:"GENERATION_ENDPOINT"`
}

// EndpointEnv holds environment configuration for an AI endpoint.
type EndpointEnv struct {
	// BaseURL is the base URL for the endpoint.
	// Env: *_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// Model is the model identifier.
	// Env: *_MODEL
	Model string `envconfig:"MODEL"`

	// APIKey is the API key for authentication.
	// Env: *_API_KEY
	APIKey string `envconfig:"API_KEY"`

	// TimeoutSeconds is the request timeout in seconds.
	// Env: *_TIMEOUT (default: 60)
	TimeoutSeconds int `envconfig:"TIMEOUT" default:"60"`

	// MaxRetries is the retry attempt limit.
	// Env: *_MAX_RETRIES (default: 5)
	MaxRetries int `envconfig:"MAX_RETRIES" default:"5"`
}

// LoadFromEnv reads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// Normalize cleans up values read from the environment.
func (e EnvConfig) Normalize() EnvConfig {
	e.LogLevel = strings.ToUpper(strings.TrimSpace(e.LogLevel))
	e.LogFormat = strings.ToLower(strings.TrimSpace(e.LogFormat))
	return e
}

// ToAppConfig converts environment configuration to an AppConfig,
// loading the providers YAML file when configured.
func (e EnvConfig) ToAppConfig() (AppConfig, error) {
	cfg := NewAppConfig().
		WithHost(e.Host).
		WithPort(e.Port).
		WithDataDir(e.DataDir).
		WithDBURL(e.DBURL)

	cfg.logLevel = e.LogLevel
	if e.LogFormat == string(LogFormatJSON) {
		cfg.logFormat = LogFormatJSON
	}

	if ep := e.EmbeddingEndpoint.toEndpoint(); ep != nil {
		cfg.embeddingEndpoint = ep
	}
	if ep := e.GenerationEndpoint.toEndpoint(); ep != nil {
		cfg.generationEndpoint = ep
	}

	if e.ProvidersFile != "" {
		providers, err := LoadProvidersFile(e.ProvidersFile)
		if err != nil {
			return AppConfig{}, err
		}
		cfg = cfg.WithProviders(providers)
	}

	return cfg, nil
}

// toEndpoint converts an EndpointEnv to an Endpoint, or nil when no
// API key or base URL is configured.
func (e EndpointEnv) toEndpoint() *Endpoint {
	if e.APIKey == "" && e.BaseURL == "" {
		return nil
	}
	ep := NewEndpoint().
		WithBaseURL(e.BaseURL).
		WithModel(e.Model).
		WithAPIKey(e.APIKey)
	if e.TimeoutSeconds > 0 {
		ep.timeout = time.Duration(e.TimeoutSeconds) * time.Second
	}
	if e.MaxRetries > 0 {
		ep.maxRetries = e.MaxRetries
	}
	return &ep
}
