package v1

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/tablevec/tablevec"
	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/infrastructure/api/middleware"
	"github.com/tablevec/tablevec/infrastructure/api/v1/dto"
)

// QueryRouter handles the natural language query endpoints.
type QueryRouter struct {
	client *tablevec.Client
	logger *slog.Logger
}

// NewQueryRouter creates a new QueryRouter.
func NewQueryRouter(client *tablevec.Client) *QueryRouter {
	return &QueryRouter{
		client: client,
		logger: client.Logger(),
	}
}

// UploadTable handles POST /api/upload_table.
func (r *QueryRouter) UploadTable(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	path, cleanup, err := saveFormFile(req)
	if err != nil {
		middleware.WriteBadRequest(w, err.Error())
		return
	}
	defer cleanup()

	tableName := req.FormValue("table_name")
	if tableName == "" {
		middleware.WriteBadRequest(w, "table_name is required")
		return
	}

	if err := r.client.Schema.LoadTable(ctx, tableName, path); err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	loaded := service.SanitizeTableName(tableName)
	columns, _ := r.client.Schema.TableSchema(loaded)

	middleware.WriteJSON(w, http.StatusOK, dto.UploadTableResponse{
		Status:  "success",
		Table:   loaded,
		Columns: columns,
	})
}

// UploadDictionary handles POST /api/upload_dictionary. After loading,
// the dictionary is indexed with the default embedding provider when one
// is available.
func (r *QueryRouter) UploadDictionary(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	path, cleanup, err := saveFormFile(req)
	if err != nil {
		middleware.WriteBadRequest(w, err.Error())
		return
	}
	defer cleanup()

	if err := r.client.Schema.LoadDictionary(ctx, path); err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	indexed := true
	if err := r.client.IndexSchema(ctx); err != nil {
		r.logger.Warn("dictionary index unavailable, falling back to unranked schema search", "error", err)
		indexed = false
	}

	middleware.WriteJSON(w, http.StatusOK, dto.UploadDictionaryResponse{
		Status:  "success",
		Indexed: indexed,
	})
}

// Query handles POST /api/query.
func (r *QueryRouter) Query(w http.ResponseWriter, req *http.Request) {
	if r.client.Query == nil {
		middleware.WriteBadRequest(w, "no text generation provider configured")
		return
	}

	var body dto.QueryRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if body.Question == "" {
		middleware.WriteBadRequest(w, "question is required")
		return
	}

	result, err := r.client.Query.Ask(req.Context(), body.Question)
	if err != nil && result.SQL == "" {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	response := dto.QueryResponse{
		SQL:            result.SQL,
		Columns:        result.Columns,
		Rows:           result.Rows,
		RelevantSchema: dictionaryDTO(result.RelevantSchema),
	}
	// A query that generated SQL but failed to execute still reports the
	// SQL so the caller can inspect it.
	if err != nil {
		response.Error = err.Error()
	}

	middleware.WriteJSON(w, http.StatusOK, response)
}

func dictionaryDTO(entries []service.DictionaryEntry) []dto.DictionaryEntry {
	out := make([]dto.DictionaryEntry, len(entries))
	for i, e := range entries {
		out[i] = dto.DictionaryEntry{
			TableName:   e.TableName,
			ColumnName:  e.ColumnName,
			Description: e.Description,
		}
	}
	return out
}

var (
	errMultipartRequired = errors.New("request must be multipart form data")
	errMissingFile       = errors.New("missing file field")
)

// saveFormFile writes the multipart file field to a temporary CSV file
// and returns its path with a cleanup function.
func saveFormFile(req *http.Request) (string, func(), error) {
	if err := req.ParseMultipartForm(maxUploadMemory); err != nil {
		return "", nil, errMultipartRequired
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		return "", nil, errMissingFile
	}
	defer func() { _ = file.Close() }()

	tmp, err := os.CreateTemp("", "tablevec-*.csv")
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}

	return tmp.Name(), func() { _ = os.Remove(tmp.Name()) }, nil
}
