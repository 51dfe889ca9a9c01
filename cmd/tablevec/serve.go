package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tablevec/tablevec"
	"github.com/tablevec/tablevec/infrastructure/api"
	"github.com/tablevec/tablevec/internal/log"
)

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  HOST                         Server host to bind to (default: 0.0.0.0)
  PORT                         Server port to listen on (default: 8080)
  DATA_DIR                     Data directory (default: ~/.tablevec)
  DB_URL                       Database URL (default: sqlite:///{data_dir}/tablevec.db)
  LOG_LEVEL                    Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   Log format: pretty, json (default: pretty)
  PROVIDERS_FILE               YAML file with provider defaults and fallback ladders

  OPENAI_API_KEY               OpenAI API key (embeddings and SQL generation)
  GOOGLE_API_KEY               Google API key (embeddings)

  EMBEDDING_ENDPOINT_*         Hosted embedding service configuration
    BASE_URL                   Base URL (e.g., https://api.openai.com/v1)
    MODEL                      Model identifier (e.g., text-embedding-3-small)
    API_KEY                    API key for authentication
    TIMEOUT                    Request timeout in seconds (default: 60)
    MAX_RETRIES                Retry attempts (default: 5)

  GENERATION_ENDPOINT_*        SQL-generation service configuration
    (same fields as EMBEDDING_ENDPOINT)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8080)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	// Flags take precedence over env vars.
	if host != "" {
		cfg = cfg.WithHost(host)
	}
	if port != 0 {
		cfg = cfg.WithPort(port)
	}

	logger := log.NewLogger(cfg)
	slogger := logger.Slog()

	opts := []tablevec.Option{
		tablevec.WithConfig(cfg),
		tablevec.WithLogger(slogger),
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		opts = append(opts, tablevec.WithOpenAI(key))
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		opts = append(opts, tablevec.WithGoogle(key))
	}

	slogger.Info("starting tablevec",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir()),
		slog.String("addr", cfg.Addr()))

	client, err := tablevec.New(opts...)
	if err != nil {
		return fmt.Errorf("create tablevec client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slogger.Error("failed to close tablevec client", slog.Any("error", err))
		}
	}()

	apiServer := api.NewAPIServer(client)
	router := apiServer.Router()
	apiServer.MountRoutes()

	router.Get("/health", healthHandler)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"name":"tablevec","version":"%s"}`, version)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server := api.NewServer(cfg.Addr(), slogger)
	server.Router().Mount("/", router)

	go func() {
		<-sigChan
		slogger.Info("shutting down server")
		cancel()
		if err := server.Shutdown(ctx); err != nil {
			slogger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
