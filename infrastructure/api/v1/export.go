package v1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tablevec/tablevec"
	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/infrastructure/api/middleware"
	"github.com/tablevec/tablevec/infrastructure/api/v1/dto"
)

// ExportRouter handles embedding download endpoints.
type ExportRouter struct {
	client *tablevec.Client
	logger *slog.Logger
}

// NewExportRouter creates a new ExportRouter.
func NewExportRouter(client *tablevec.Client) *ExportRouter {
	return &ExportRouter{
		client: client,
		logger: client.Logger(),
	}
}

// Download handles GET /api/download/{jobID}/{format}.
func (r *ExportRouter) Download(w http.ResponseWriter, req *http.Request) {
	r.download(w, req, chi.URLParam(req, "jobID"), chi.URLParam(req, "format"))
}

// DownloadPost handles POST /api/download with a JSON body.
func (r *ExportRouter) DownloadPost(w http.ResponseWriter, req *http.Request) {
	var body dto.DownloadRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteBadRequest(w, "invalid JSON body")
		return
	}
	r.download(w, req, body.JobID, body.Format)
}

func (r *ExportRouter) download(w http.ResponseWriter, req *http.Request, jobID, format string) {
	if !service.ValidFormat(format) {
		middleware.WriteError(w, req, fmt.Errorf("%w: %s", service.ErrUnknownFormat, format), r.logger)
		return
	}

	contentType := "application/json"
	if format == service.FormatJSONL {
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", r.client.Exporter.Filename(format)))

	// Validation failures surface before the exporter writes anything, so
	// the error response replaces the attachment headers cleanly.
	if err := r.client.Exporter.Export(req.Context(), jobID, format, w); err != nil {
		w.Header().Del("Content-Disposition")
		middleware.WriteError(w, req, err, r.logger)
		return
	}
}
