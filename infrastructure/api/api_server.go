package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tablevec/tablevec"
	apimiddleware "github.com/tablevec/tablevec/infrastructure/api/middleware"
	v1 "github.com/tablevec/tablevec/infrastructure/api/v1"
	mcpinternal "github.com/tablevec/tablevec/internal/mcp"
)

// APIServer provides an HTTP API backed by a tablevec Client.
type APIServer struct {
	client       *tablevec.Client
	server       *Server
	router       chi.Router
	routerCalled bool
	logger       *slog.Logger
}

// NewAPIServer creates a new APIServer wired to the given tablevec Client.
func NewAPIServer(client *tablevec.Client) *APIServer {
	return &APIServer{
		client: client,
		logger: client.Logger(),
	}
}

// Router returns the chi router for customization before starting.
// Call this first, add custom middleware with router.Use(), then call
// MountRoutes(). If not called, ListenAndServe creates a default router
// with all standard routes.
func (a *APIServer) Router() chi.Router {
	if a.router != nil {
		return a.router
	}

	a.router = chi.NewRouter()
	a.routerCalled = true
	return a.router
}

// MountRoutes wires up all API routes on the router.
func (a *APIServer) MountRoutes() {
	if a.router == nil {
		a.Router()
	}
	a.mountRoutes(a.router)
}

// mountRoutes wires up all API routes on the given router.
func (a *APIServer) mountRoutes(router chi.Router) {
	c := a.client

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	router.Use(apimiddleware.Logging(a.logger))

	jobs := v1.NewJobsRouter(c)
	analysis := v1.NewAnalysisRouter(c)
	export := v1.NewExportRouter(c)
	query := v1.NewQueryRouter(c)

	router.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(120 * time.Second))

		r.Post("/upload", jobs.Upload)
		r.Post("/generate", jobs.Generate)
		r.Get("/status/{jobID}", jobs.Status)

		r.Post("/cluster", analysis.Cluster)
		r.Post("/compare", analysis.Compare)

		r.Get("/download/{jobID}/{format}", export.Download)
		r.Post("/download", export.DownloadPost)

		r.Post("/upload_table", query.UploadTable)
		r.Post("/upload_dictionary", query.UploadDictionary)
		r.Post("/query", query.Query)
	})

	// MCP endpoint. MCP streams responses and manages its own session
	// state, which is incompatible with chi's Timeout middleware.
	var querier mcpinternal.Querier
	if c.Query != nil {
		querier = c.Query
	}
	mcpSrv := mcpinternal.NewServer(querier, c.Schema, c.Ingestion, "1.0.0", a.logger)
	router.Mount("/mcp", server.NewStreamableHTTPServer(mcpSrv.MCPServer()))
}

// ListenAndServe starts the HTTP server on the given address.
func (a *APIServer) ListenAndServe(addr string) error {
	srv := NewServer(addr, a.logger)
	a.server = &srv

	if a.routerCalled && a.router != nil {
		srv.Router().Mount("/", a.router)
	} else {
		a.mountRoutes(srv.Router())
	}

	return srv.Start()
}

// Shutdown gracefully shuts down the server.
func (a *APIServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
