// Package persistence implements the job store on GORM, targeting SQLite
// and PostgreSQL.
package persistence

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tablevec/tablevec/domain/job"
)

// Float64Slice stores an embedding vector as a JSON array column.
type Float64Slice []float64

// Scan implements sql.Scanner for reading JSON.
func (f *Float64Slice) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Float64Slice", value)
	}

	return json.Unmarshal(data, f)
}

// Value implements driver.Valuer for writing JSON.
func (f Float64Slice) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// MetadataJSON stores a row's metadata map as a JSON column. Nil map
// values round-trip as JSON null so missing source cells stay explicit.
type MetadataJSON job.Metadata

// Scan implements sql.Scanner for reading JSON.
func (m *MetadataJSON) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into MetadataJSON", value)
	}

	return json.Unmarshal(data, m)
}

// Value implements driver.Valuer for writing JSON.
func (m MetadataJSON) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// JobModel is the GORM model for jobs.
type JobModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Status        string    `gorm:"column:status;not null;index"`
	TotalRows     int       `gorm:"column:total_rows;not null"`
	ProcessedRows int       `gorm:"column:processed_rows;not null;default:0"`
	ErrorMessage  string    `gorm:"column:error_message"`
	InputFilePath string    `gorm:"column:input_file_path"`
	Provider      string    `gorm:"column:provider"`
	Model         string    `gorm:"column:model"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

// TableName implements gorm's Tabler interface.
func (JobModel) TableName() string { return "tablevec_jobs" }

// ToDomain converts the model to a domain Job.
func (m JobModel) ToDomain() job.Job {
	return job.NewJobFull(
		m.ID,
		job.Status(m.Status),
		m.TotalRows,
		m.ProcessedRows,
		m.ErrorMessage,
		m.InputFilePath,
		m.Provider,
		m.Model,
		m.CreatedAt,
	)
}

// JobModelFromDomain converts a domain Job to its GORM model.
func JobModelFromDomain(j job.Job) JobModel {
	return JobModel{
		ID:            j.ID(),
		Status:        string(j.Status()),
		TotalRows:     j.TotalRows(),
		ProcessedRows: j.ProcessedRows(),
		ErrorMessage:  j.ErrorMessage(),
		InputFilePath: j.InputFilePath(),
		Provider:      j.Provider(),
		Model:         j.Model(),
		CreatedAt:     j.CreatedAt(),
	}
}

// EmbeddingRecordModel is the GORM model for per-row embedding records.
// Rows are keyed by (job_id, row_index).
type EmbeddingRecordModel struct {
	JobID     string       `gorm:"column:job_id;primaryKey"`
	RowIndex  int          `gorm:"column:row_index;primaryKey;autoIncrement:false"`
	Text      string       `gorm:"column:text"`
	Vector    Float64Slice `gorm:"column:vector;type:json;not null"`
	Metadata  MetadataJSON `gorm:"column:metadata;type:json"`
	ClusterID *int         `gorm:"column:cluster_id"`
}

// TableName implements gorm's Tabler interface.
func (EmbeddingRecordModel) TableName() string { return "tablevec_embeddings" }

// ToDomain converts the model to a domain EmbeddingRecord.
func (m EmbeddingRecordModel) ToDomain() job.EmbeddingRecord {
	return job.NewEmbeddingRecordFull(
		m.JobID,
		m.RowIndex,
		m.Text,
		m.Vector,
		job.Metadata(m.Metadata),
		m.ClusterID,
	)
}

// RecordModelFromDomain converts a domain EmbeddingRecord to its GORM model.
func RecordModelFromDomain(r job.EmbeddingRecord) EmbeddingRecordModel {
	return EmbeddingRecordModel{
		JobID:     r.JobID(),
		RowIndex:  r.RowIndex(),
		Text:      r.Text(),
		Vector:    Float64Slice(r.Vector()),
		Metadata:  MetadataJSON(r.Metadata()),
		ClusterID: r.ClusterID(),
	}
}
