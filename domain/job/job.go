// Package job provides the embedding job domain: job lifecycle, per-row
// embedding records, and the store contracts they are persisted through.
package job

import (
	"time"
)

// Status represents the lifecycle state of an embedding job.
type Status string

// Status values.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Terminal states accept no further transitions.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Job represents one embedding-generation run over one uploaded source file.
// TotalRows is fixed at creation; ProcessedRows only ever grows and never
// exceeds TotalRows. Error is set only when the job failed.
type Job struct {
	id            string
	status        Status
	totalRows     int
	processedRows int
	errorMessage  string
	inputFilePath string
	provider      string
	model         string
	createdAt     time.Time
}

// NewJob creates a Job in the pending state.
func NewJob(id, inputFilePath string, totalRows int) Job {
	return Job{
		id:            id,
		status:        StatusPending,
		totalRows:     totalRows,
		inputFilePath: inputFilePath,
		createdAt:     time.Now().UTC(),
	}
}

// NewJobFull creates a Job with all fields (used by the store).
func NewJobFull(
	id string,
	status Status,
	totalRows, processedRows int,
	errorMessage, inputFilePath, provider, model string,
	createdAt time.Time,
) Job {
	return Job{
		id:            id,
		status:        status,
		totalRows:     totalRows,
		processedRows: processedRows,
		errorMessage:  errorMessage,
		inputFilePath: inputFilePath,
		provider:      provider,
		model:         model,
		createdAt:     createdAt,
	}
}

// ID returns the job identifier.
func (j Job) ID() string { return j.id }

// Status returns the current lifecycle state.
func (j Job) Status() Status { return j.status }

// TotalRows returns the row count fixed at creation.
func (j Job) TotalRows() int { return j.totalRows }

// ProcessedRows returns how many rows have been durably stored.
func (j Job) ProcessedRows() int { return j.processedRows }

// ErrorMessage returns the failure message, empty unless the job failed.
func (j Job) ErrorMessage() string { return j.errorMessage }

// InputFilePath returns the path of the uploaded source file.
func (j Job) InputFilePath() string { return j.inputFilePath }

// Provider returns the embedding provider the job was started with.
func (j Job) Provider() string { return j.provider }

// Model returns the embedding model the job was started with.
func (j Job) Model() string { return j.model }

// CreatedAt returns when the job was created.
func (j Job) CreatedAt() time.Time { return j.createdAt }

// WithStatus returns a copy of the job with the given status.
func (j Job) WithStatus(status Status) Job {
	j.status = status
	return j
}

// WithError returns a copy of the job marked failed with the given message.
func (j Job) WithError(message string) Job {
	j.status = StatusFailed
	j.errorMessage = message
	return j
}

// WithProgress returns a copy of the job with the given processed row count.
func (j Job) WithProgress(processedRows int) Job {
	j.processedRows = processedRows
	return j
}

// WithProviderModel returns a copy of the job annotated with the provider
// and model used for embedding.
func (j Job) WithProviderModel(provider, model string) Job {
	j.provider = provider
	j.model = model
	return j
}

// Complete reports whether every row has been processed.
func (j Job) Complete() bool {
	return j.processedRows >= j.totalRows
}
