// Package tablevec provides a library for generating, storing, and
// analyzing embeddings of tabular data.
//
// Tablevec ingests CSV files, embeds the selected text columns through a
// hosted or local provider, and stores the vectors durably per job. Stored
// jobs can be exported in vector database formats, clustered, compared
// against each other, and queried in natural language.
//
// Basic usage:
//
//	client, err := tablevec.New(
//	    tablevec.WithDataDir(".tablevec"),
//	    tablevec.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Upload a CSV and start embedding generation
//	upload, err := client.Ingestion.Upload(ctx, "products.csv", file)
//	err = client.Ingestion.Generate(ctx, service.GenerateRequest{
//	    JobID:       upload.JobID,
//	    TextColumns: []string{"name", "description"},
//	    Provider:    "openai",
//	})
package tablevec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tablevec/tablevec/application/service"
	domainprovider "github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/persistence"
	"github.com/tablevec/tablevec/infrastructure/provider"
	"github.com/tablevec/tablevec/internal/config"
	"github.com/tablevec/tablevec/internal/database"
	"github.com/tablevec/tablevec/internal/log"
)

// Client is the main entry point for the tablevec library.
//
// Access resources via struct fields:
//
//	client.Ingestion.Upload(ctx, "data.csv", file)
//	client.Exporter.Export(ctx, jobID, "pinecone", w)
//	client.Analysis.Cluster(ctx, req)
type Client struct {
	// Public resource fields (direct service access)
	Ingestion *service.Ingestion
	Exporter  *service.Exporter
	Analysis  *service.Analysis
	Schema    *service.SchemaManager

	// Query is nil when no text generation provider is configured.
	Query *service.Query

	db        database.Database
	schemaDB  database.Database
	store     *persistence.JobStore
	embedders *provider.Cache
	runners   *service.RunnerRegistry
	providers config.ProvidersFile
	logger    *slog.Logger
	closed    atomic.Bool
}

// New creates a new Client with the given options. Jobs left in the
// processing state by an earlier run are marked failed on startup.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = log.NewLogger(cfg.app).Slog()
	}

	if err := cfg.app.EnsureDataDir(); err != nil {
		return nil, err
	}

	uploadDir := cfg.uploadDir
	if uploadDir == "" {
		uploadDir = cfg.app.UploadDir()
	}

	ctx := context.Background()
	db, err := database.NewDatabase(ctx, cfg.app.DBURL())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := persistence.AutoMigrate(db); err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("auto migrate: %w", err), errClose)
	}

	store := persistence.NewJobStore(db, logger)

	// A runner cannot survive a process restart, so any job still marked
	// processing is an orphan.
	if swept, err := store.MarkOrphansFailed(ctx, "interrupted by restart"); err != nil {
		logger.Warn("orphan sweep failed", "error", err)
	} else if swept > 0 {
		logger.Info("swept orphaned jobs", "count", swept)
	}

	factory := cfg.factory
	if factory == nil {
		factory = buildFactory(cfg)
	}
	embedders := provider.NewCache(factory)

	schemaDB, err := database.NewDatabase(ctx, cfg.schemaDBURL)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("open schema database: %w", err), errClose)
	}

	runners := service.NewRunnerRegistry()
	schema := service.NewSchemaManager(schemaDB, logger)

	client := &Client{
		Ingestion: service.NewIngestion(store, embedders, runners, uploadDir, logger),
		Exporter:  service.NewExporter(store, logger),
		Analysis:  service.NewAnalysis(store, logger),
		Schema:    schema,

		db:        db,
		schemaDB:  schemaDB,
		store:     store,
		embedders: embedders,
		runners:   runners,
		providers: cfg.app.Providers(),
		logger:    logger,
	}

	if generator := buildTextGenerator(cfg); generator != nil {
		client.Query = service.NewQuery(schema, service.NewSQLGenerator(generator), logger)
	}

	return client, nil
}

// buildFactory assembles the provider factory from explicit options and
// the environment-driven endpoint configuration.
func buildFactory(cfg *clientConfig) provider.Factory {
	openAI := cfg.openAI
	if openAI.APIKey == "" {
		if ep := cfg.app.EmbeddingEndpoint(); ep != nil {
			openAI.APIKey = ep.APIKey()
			openAI.BaseURL = ep.BaseURL()
			openAI.EmbeddingModel = ep.Model()
			openAI.Timeout = ep.Timeout()
			openAI.MaxRetries = ep.MaxRetries()
			openAI.InitialDelay = ep.InitialDelay()
			openAI.BackoffFactor = ep.BackoffFactor()
		}
	}
	if openAI.EmbeddingModel == "" {
		openAI.EmbeddingModel = cfg.app.Providers().DefaultModel(provider.NameOpenAI)
	}

	google := cfg.google
	if google.Model == "" {
		google.Model = cfg.app.Providers().DefaultModel(provider.NameGoogle)
	}
	if len(google.Fallbacks) == 0 {
		google.Fallbacks = cfg.app.Providers().GoogleFallbacks
	}

	return provider.Factory{
		OpenAI:        openAI,
		Google:        google,
		ModelCacheDir: cfg.app.ModelCacheDir(),
	}
}

// buildTextGenerator resolves the SQL generation provider: an explicit
// generator wins, then OpenAI credentials, then the generation endpoint.
func buildTextGenerator(cfg *clientConfig) domainprovider.TextGenerator {
	if cfg.textGenerator != nil {
		return cfg.textGenerator
	}

	openAI := cfg.openAI
	if openAI.APIKey == "" {
		ep := cfg.app.GenerationEndpoint()
		if ep == nil {
			return nil
		}
		openAI.APIKey = ep.APIKey()
		openAI.BaseURL = ep.BaseURL()
		openAI.ChatModel = ep.Model()
		openAI.Timeout = ep.Timeout()
		openAI.MaxRetries = ep.MaxRetries()
		openAI.InitialDelay = ep.InitialDelay()
		openAI.BackoffFactor = ep.BackoffFactor()
	}

	generator, err := provider.NewOpenAIProvider(openAI)
	if err != nil {
		return nil
	}
	return generator
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Embedders returns the shared embedder cache.
func (c *Client) Embedders() *provider.Cache {
	return c.embedders
}

// DefaultProvider returns the provider name used when a request does not
// name one.
func (c *Client) DefaultProvider() string {
	return c.providers.DefaultProvider
}

// IndexSchema embeds the loaded data dictionary with the default
// embedding provider so natural language queries can rank schema entries.
func (c *Client) IndexSchema(ctx context.Context) error {
	name := c.providers.DefaultProvider
	embedder, err := c.embedders.Get(name, c.providers.DefaultModel(name))
	if err != nil {
		return err
	}
	return c.Schema.IndexDictionary(ctx, embedder)
}

// WaitForJob blocks until the background runner for the job finishes.
// It returns immediately when no runner is active.
func (c *Client) WaitForJob(id string) {
	c.runners.Wait(id)
}

// Close releases the database connections and cached providers. It is
// safe to call multiple times.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	errs := []error{
		c.embedders.Close(),
		c.schemaDB.Close(),
		c.db.Close(),
	}
	return errors.Join(errs...)
}
