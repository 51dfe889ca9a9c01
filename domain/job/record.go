package job

// Metadata holds the per-row metadata columns. Missing or unparseable
// source cells are stored as explicit nil values so that every configured
// column is present and serializes to JSON null rather than being omitted.
type Metadata map[string]any

// Copy returns a shallow copy of the metadata map.
func (m Metadata) Copy() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EmbeddingRecord is one row's text, vector, metadata, and optional cluster
// assignment. Records are immutable after creation except for the cluster id,
// and are owned exclusively by their job.
type EmbeddingRecord struct {
	jobID     string
	rowIndex  int
	text      string
	vector    []float64
	metadata  Metadata
	clusterID *int
}

// NewEmbeddingRecord creates a record without a cluster assignment.
func NewEmbeddingRecord(jobID string, rowIndex int, text string, vector []float64, metadata Metadata) EmbeddingRecord {
	vec := make([]float64, len(vector))
	copy(vec, vector)
	return EmbeddingRecord{
		jobID:    jobID,
		rowIndex: rowIndex,
		text:     text,
		vector:   vec,
		metadata: metadata.Copy(),
	}
}

// NewEmbeddingRecordFull creates a record with all fields (used by the store).
func NewEmbeddingRecordFull(jobID string, rowIndex int, text string, vector []float64, metadata Metadata, clusterID *int) EmbeddingRecord {
	r := NewEmbeddingRecord(jobID, rowIndex, text, vector, metadata)
	if clusterID != nil {
		id := *clusterID
		r.clusterID = &id
	}
	return r
}

// JobID returns the owning job's identifier.
func (r EmbeddingRecord) JobID() string { return r.jobID }

// RowIndex returns the zero-based source row index.
func (r EmbeddingRecord) RowIndex() int { return r.rowIndex }

// Text returns the embedded source text.
func (r EmbeddingRecord) Text() string { return r.text }

// Vector returns a copy of the embedding vector.
func (r EmbeddingRecord) Vector() []float64 {
	vec := make([]float64, len(r.vector))
	copy(vec, r.vector)
	return vec
}

// Dimension returns the embedding vector length.
func (r EmbeddingRecord) Dimension() int { return len(r.vector) }

// Metadata returns a copy of the metadata map.
func (r EmbeddingRecord) Metadata() Metadata { return r.metadata.Copy() }

// ClusterID returns the cluster assignment, or nil if no clustering pass
// has run for the job.
func (r EmbeddingRecord) ClusterID() *int {
	if r.clusterID == nil {
		return nil
	}
	id := *r.clusterID
	return &id
}

// WithClusterID returns a copy of the record with the given cluster id.
func (r EmbeddingRecord) WithClusterID(id int) EmbeddingRecord {
	r.clusterID = &id
	return r
}
