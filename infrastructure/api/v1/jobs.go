// Package v1 implements the versioned HTTP API routes.
package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tablevec/tablevec"
	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/infrastructure/api/middleware"
	"github.com/tablevec/tablevec/infrastructure/api/v1/dto"
)

// maxUploadMemory bounds the in-memory part of multipart parsing.
const maxUploadMemory = 32 << 20

// JobsRouter handles upload, generation, and status endpoints.
type JobsRouter struct {
	client *tablevec.Client
	logger *slog.Logger
}

// NewJobsRouter creates a new JobsRouter.
func NewJobsRouter(client *tablevec.Client) *JobsRouter {
	return &JobsRouter{
		client: client,
		logger: client.Logger(),
	}
}

// Upload handles POST /api/upload.
func (r *JobsRouter) Upload(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseMultipartForm(maxUploadMemory); err != nil {
		middleware.WriteBadRequest(w, "request must be multipart form data")
		return
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		middleware.WriteBadRequest(w, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	result, err := r.client.Ingestion.Upload(ctx, header.Filename, file)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	preview := make([]map[string]any, len(result.Preview))
	for i, row := range result.Preview {
		preview[i] = row
	}

	middleware.WriteJSON(w, http.StatusOK, dto.UploadResponse{
		JobID:    result.JobID,
		Columns:  result.Columns,
		Preview:  preview,
		RowCount: result.RowCount,
	})
}

// Generate handles POST /api/generate.
func (r *JobsRouter) Generate(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var body dto.GenerateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if body.JobID == "" {
		middleware.WriteBadRequest(w, "job_id is required")
		return
	}
	if len(body.TextColumns) == 0 {
		middleware.WriteBadRequest(w, "text_columns is required")
		return
	}

	provider := body.Provider
	if provider == "" {
		provider = r.client.DefaultProvider()
	}
	combine := true
	if body.CombineColumns != nil {
		combine = *body.CombineColumns
	}

	err := r.client.Ingestion.Generate(ctx, service.GenerateRequest{
		JobID:           body.JobID,
		TextColumns:     body.TextColumns,
		MetadataColumns: body.MetadataColumns,
		Provider:        provider,
		Model:           body.Model,
		CombineColumns:  combine,
	})
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, dto.GenerateResponse{
		Status: "processing",
		JobID:  body.JobID,
	})
}

// Status handles GET /api/status/{jobID}.
func (r *JobsRouter) Status(w http.ResponseWriter, req *http.Request) {
	jobID := chi.URLParam(req, "jobID")

	j, err := r.client.Ingestion.Status(req.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, dto.StatusResponse{
		JobID:     j.ID(),
		Status:    string(j.Status()),
		Processed: j.ProcessedRows(),
		Total:     j.TotalRows(),
		Error:     j.ErrorMessage(),
		Provider:  j.Provider(),
		Model:     j.Model(),
	})
}
