// Package mcp provides Model Context Protocol server functionality.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/domain/job"
)

// Querier answers natural language questions for MCP tools.
type Querier interface {
	Ask(ctx context.Context, question string) (service.QueryResult, error)
}

// SchemaSearcher ranks data dictionary entries for MCP tools.
type SchemaSearcher interface {
	SearchRelevantSchema(ctx context.Context, question string) ([]service.DictionaryEntry, error)
}

// JobLookup retrieves job progress for MCP tools.
type JobLookup interface {
	Status(ctx context.Context, id string) (job.Job, error)
}

// Server wraps the MCP server with tablevec-specific tools.
type Server struct {
	mcpServer *server.MCPServer
	query     Querier
	schema    SchemaSearcher
	jobs      JobLookup
	logger    *slog.Logger
}

// NewServer creates a new MCP server with the given dependencies. The
// query service may be nil when no text generation provider is
// configured; the query tool then reports an error to the caller.
func NewServer(query Querier, schema SchemaSearcher, jobs JobLookup, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		query:  query,
		schema: schema,
		jobs:   jobs,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"tablevec",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.mcpServer = mcpServer
	return s
}

// MCPServer returns the underlying MCP server for transport mounting.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// registerTools registers all tablevec tools with the MCP server.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Answer a natural language question over the loaded tables by generating and executing SQL"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
	)
	mcpServer.AddTool(queryTool, s.handleQuery)

	searchSchemaTool := mcp.NewTool("search_schema",
		mcp.WithDescription("Find the data dictionary entries most relevant to a question"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to rank schema entries against"),
		),
	)
	mcpServer.AddTool(searchSchemaTool, s.handleSearchSchema)

	jobStatusTool := mcp.NewTool("job_status",
		mcp.WithDescription("Get the progress of an embedding generation job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job identifier"),
		),
	)
	mcpServer.AddTool(jobStatusTool, s.handleJobStatus)
}

// handleQuery handles the query tool invocation.
func (s *Server) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question is required"), nil
	}
	if s.query == nil {
		return mcp.NewToolResultError("no text generation provider configured"), nil
	}

	result, err := s.query.Ask(ctx, question)
	if err != nil {
		s.logger.Error("query failed", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// handleSearchSchema handles the search_schema tool invocation.
func (s *Server) handleSearchSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question is required"), nil
	}

	entries, err := s.schema.SearchRelevantSchema(ctx, question)
	if err != nil {
		s.logger.Error("schema search failed", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("schema search failed: %v", err)), nil
	}

	jsonBytes, err := json.Marshal(entries)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// handleJobStatus handles the job_status tool invocation.
func (s *Server) handleJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	j, err := s.jobs.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get job: %v", err)), nil
	}

	status := struct {
		JobID     string `json:"job_id"`
		Status    string `json:"status"`
		Processed int    `json:"processed"`
		Total     int    `json:"total"`
		Error     string `json:"error,omitempty"`
	}{
		JobID:     j.ID(),
		Status:    string(j.Status()),
		Processed: j.ProcessedRows(),
		Total:     j.TotalRows(),
		Error:     j.ErrorMessage(),
	}

	jsonBytes, err := json.Marshal(status)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
