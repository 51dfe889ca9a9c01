// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default configuration values.
const (
	DefaultHost                  = "0.0.0.0"
	DefaultPort                  = 8080
	DefaultLogLevel              = "INFO"
	DefaultEndpointTimeout       = 60 * time.Second
	DefaultEndpointMaxRetries    = 5
	DefaultEndpointInitialDelay  = 2 * time.Second
	DefaultEndpointBackoffFactor = 2.0
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Endpoint configures a hosted AI service endpoint.
type Endpoint struct {
	baseURL       string
	model         string
	apiKey        string
	timeout       time.Duration
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
}

// NewEndpoint creates a new Endpoint with defaults.
func NewEndpoint() Endpoint {
	return Endpoint{
		timeout:       DefaultEndpointTimeout,
		maxRetries:    DefaultEndpointMaxRetries,
		initialDelay:  DefaultEndpointInitialDelay,
		backoffFactor: DefaultEndpointBackoffFactor,
	}
}

// BaseURL returns the base URL for the endpoint.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Model returns the model identifier.
func (e Endpoint) Model() string { return e.model }

// APIKey returns the API key.
func (e Endpoint) APIKey() string { return e.apiKey }

// Timeout returns the request timeout.
func (e Endpoint) Timeout() time.Duration { return e.timeout }

// MaxRetries returns the retry attempt limit.
func (e Endpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the initial retry delay.
func (e Endpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffFactor returns the backoff multiplier.
func (e Endpoint) BackoffFactor() float64 { return e.backoffFactor }

// WithBaseURL returns a copy with the base URL set.
func (e Endpoint) WithBaseURL(url string) Endpoint {
	e.baseURL = url
	return e
}

// WithModel returns a copy with the model set.
func (e Endpoint) WithModel(model string) Endpoint {
	e.model = model
	return e
}

// WithAPIKey returns a copy with the API key set.
func (e Endpoint) WithAPIKey(key string) Endpoint {
	e.apiKey = key
	return e
}

// AppConfig holds the resolved application configuration.
type AppConfig struct {
	host               string
	port               int
	dataDir            string
	dbURL              string
	logLevel           string
	logFormat          LogFormat
	embeddingEndpoint  *Endpoint
	generationEndpoint *Endpoint
	providers          ProvidersFile
}

// NewAppConfig creates an AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		host:      DefaultHost,
		port:      DefaultPort,
		logLevel:  DefaultLogLevel,
		logFormat: LogFormatPretty,
		providers: DefaultProvidersFile(),
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port.
func (c AppConfig) Port() int { return c.port }

// Addr returns the host:port address string.
func (c AppConfig) Addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// DataDir returns the data directory, defaulting to ~/.tablevec.
func (c AppConfig) DataDir() string {
	if c.dataDir != "" {
		return c.dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tablevec"
	}
	return filepath.Join(home, ".tablevec")
}

// UploadDir returns the directory uploaded source files are stored in.
func (c AppConfig) UploadDir() string {
	return filepath.Join(c.DataDir(), "uploads")
}

// ModelCacheDir returns the directory local embedding models live in.
func (c AppConfig) ModelCacheDir() string {
	return filepath.Join(c.DataDir(), "models")
}

// DBURL returns the database connection URL, defaulting to a SQLite file
// inside the data directory.
func (c AppConfig) DBURL() string {
	if c.dbURL != "" {
		return c.dbURL
	}
	return "sqlite:///" + filepath.Join(c.DataDir(), "tablevec.db")
}

// LogLevel returns the log verbosity level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log output format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// EmbeddingEndpoint returns the hosted embedding endpoint configuration,
// or nil when not configured.
func (c AppConfig) EmbeddingEndpoint() *Endpoint { return c.embeddingEndpoint }

// GenerationEndpoint returns the SQL-generation endpoint configuration,
// or nil when not configured.
func (c AppConfig) GenerationEndpoint() *Endpoint { return c.generationEndpoint }

// Providers returns the provider defaults and fallback ladders.
func (c AppConfig) Providers() ProvidersFile { return c.providers }

// WithHost returns a copy with the host set.
func (c AppConfig) WithHost(host string) AppConfig {
	c.host = host
	return c
}

// WithPort returns a copy with the port set.
func (c AppConfig) WithPort(port int) AppConfig {
	c.port = port
	return c
}

// WithDataDir returns a copy with the data directory set.
func (c AppConfig) WithDataDir(dir string) AppConfig {
	c.dataDir = dir
	return c
}

// WithDBURL returns a copy with the database URL set.
func (c AppConfig) WithDBURL(url string) AppConfig {
	c.dbURL = url
	return c
}

// WithProviders returns a copy with the provider file settings applied.
func (c AppConfig) WithProviders(p ProvidersFile) AppConfig {
	c.providers = p
	return c
}

// EnsureDataDir creates the data, upload, and model cache directories.
func (c AppConfig) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir(), c.UploadDir(), c.ModelCacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
