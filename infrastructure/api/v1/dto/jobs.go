// Package dto defines the request and response bodies of the v1 API.
package dto

// UploadResponse describes a freshly uploaded CSV.
type UploadResponse struct {
	JobID    string           `json:"job_id"`
	Columns  []string         `json:"columns"`
	Preview  []map[string]any `json:"preview"`
	RowCount int              `json:"row_count"`
}

// GenerateRequest starts embedding generation for an uploaded job.
// CombineColumns defaults to true when omitted.
type GenerateRequest struct {
	JobID           string   `json:"job_id"`
	TextColumns     []string `json:"text_columns"`
	MetadataColumns []string `json:"metadata_columns"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	CombineColumns  *bool    `json:"combine_columns"`
}

// GenerateResponse acknowledges that generation started.
type GenerateResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// StatusResponse reports job progress.
type StatusResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}
