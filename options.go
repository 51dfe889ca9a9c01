package tablevec

import (
	"log/slog"

	domainprovider "github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/provider"
	"github.com/tablevec/tablevec/internal/config"
)

// clientConfig holds configuration for Client construction.
// Use newClientConfig() to create with defaults from internal/config.
type clientConfig struct {
	app           config.AppConfig
	logger        *slog.Logger
	uploadDir     string
	schemaDBURL   string
	openAI        provider.OpenAIConfig
	google        provider.GoogleConfig
	factory       provider.EmbedderFactory
	textGenerator domainprovider.TextGenerator
}

// newClientConfig creates a clientConfig with defaults from internal/config.
func newClientConfig() *clientConfig {
	return &clientConfig{
		app:         config.NewAppConfig(),
		schemaDBURL: "sqlite:///:memory:",
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithConfig replaces the whole application configuration, typically one
// loaded from the environment with config.LoadConfig.
func WithConfig(cfg config.AppConfig) Option {
	return func(c *clientConfig) {
		c.app = cfg
	}
}

// WithLogger sets the logger used by all services.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithDataDir sets the data directory for uploads, models, and the
// default SQLite database.
func WithDataDir(dir string) Option {
	return func(c *clientConfig) {
		c.app = c.app.WithDataDir(dir)
	}
}

// WithDatabaseURL sets the job store database URL. SQLite URLs look like
// sqlite:///path/to/data.db, PostgreSQL URLs like postgresql://host/db.
func WithDatabaseURL(url string) Option {
	return func(c *clientConfig) {
		c.app = c.app.WithDBURL(url)
	}
}

// WithUploadDir overrides the directory uploaded CSV files are stored in.
func WithUploadDir(dir string) Option {
	return func(c *clientConfig) {
		c.uploadDir = dir
	}
}

// WithSchemaDatabaseURL sets the database the query engine loads tables
// into. Defaults to an in-memory SQLite database.
func WithSchemaDatabaseURL(url string) Option {
	return func(c *clientConfig) {
		c.schemaDBURL = url
	}
}

// WithOpenAI configures OpenAI for embeddings and SQL generation.
func WithOpenAI(apiKey string) Option {
	return func(c *clientConfig) {
		c.openAI.APIKey = apiKey
	}
}

// WithOpenAIConfig configures OpenAI with full control over models,
// retries, and the base URL.
func WithOpenAIConfig(cfg provider.OpenAIConfig) Option {
	return func(c *clientConfig) {
		c.openAI = cfg
	}
}

// WithGoogle configures Google as an embedding provider.
func WithGoogle(apiKey string) Option {
	return func(c *clientConfig) {
		c.google.APIKey = apiKey
	}
}

// WithGoogleConfig configures Google with a custom model and fallback
// ladder.
func WithGoogleConfig(cfg provider.GoogleConfig) Option {
	return func(c *clientConfig) {
		c.google = cfg
	}
}

// WithEmbedderFactory replaces the provider factory. Tests use this to
// inject fake embedders.
func WithEmbedderFactory(factory provider.EmbedderFactory) Option {
	return func(c *clientConfig) {
		c.factory = factory
	}
}

// WithTextGenerator replaces the SQL generation provider.
func WithTextGenerator(generator domainprovider.TextGenerator) Option {
	return func(c *clientConfig) {
		c.textGenerator = generator
	}
}
